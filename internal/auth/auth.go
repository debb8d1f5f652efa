// Package auth issues and validates the JWTs that guard the HTTP surface.
// API keys trade for a short-lived token carrying the caller's screening and
// trading permissions.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/screener-api/pkg/response"
)

var ErrInvalidCredentials = errors.New("invalid API credentials")

// tokenTTL bounds how long an issued token stays valid.
const tokenTTL = 24 * time.Hour

// defaultPermissions is what every key issued through the demo registry may
// do. A production credential store would scope these per key.
var defaultPermissions = []string{"profiles:manage", "scan:run", "trade:execute"}

// Demo credentials registered at boot in paper mode.
var (
	TestAPIKey    = "screener-demo-key"
	TestAPISecret = "screener-demo-secret"
)

// Credentials is the key pair exchanged for a token.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse carries the signed token back to the caller.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims is the payload signed into every token. ClientID keys the
// per-client HTTP rate limiter.
type Claims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

// Service validates credentials and signs tokens. The credential registry is
// in-memory; a real deployment would back it with a secrets store.
type Service struct {
	secret []byte

	mu   sync.RWMutex
	keys map[string]string
}

func NewService(jwtSecret string) *Service {
	return &Service{
		secret: []byte(jwtSecret),
		keys:   make(map[string]string),
	}
}

// RegisterAPICredentials adds a key pair to the registry.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[apiKey] = apiSecret
}

// GenerateToken exchanges valid credentials for a signed token. The API key
// doubles as the client identity in the claims.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	s.mu.RLock()
	secret, known := s.keys[creds.APIKey]
	s.mu.RUnlock()
	if !known || secret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiry := now.Add(tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ClientID:    creds.APIKey,
		Permissions: defaultPermissions,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &TokenResponse{Token: signed, Expiration: expiry}, nil
}

// ValidateToken checks the signature and registered claims and returns the
// decoded payload.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GinHandlers exposes the token endpoint.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateTokenHandler handles POST requests exchanging API credentials for
// a JWT.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
