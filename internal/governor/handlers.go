package governor

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/pkg/response"
)

// LimitStore persists provider quota overrides across restarts. The settings
// table satisfies this; the governor itself never touches the database.
type LimitStore interface {
	GetInt(key string, fallback int) (int, error)
	SetInt(key string, value int) error
}

// GinHandlers exposes the rate-limit status and update endpoints.
type GinHandlers struct {
	governor *Governor
	settings LimitStore
}

func NewGinHandlers(g *Governor, settings LimitStore) *GinHandlers {
	return &GinHandlers{governor: g, settings: settings}
}

// StatusHandler handles GET requests for per-provider quota usage.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.governor.Status())
	}
}

type updateLimitsRequest struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute" binding:"required,gt=0"`
	RateLimitPerDay    int `json:"rate_limit_per_day"`
}

// UpdateLimitsHandler handles PUT requests to change a provider's quotas at
// runtime. The new values are persisted so they survive restarts.
func (h *GinHandlers) UpdateLimitsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")
		var req updateLimitsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.governor.UpdateLimits(provider, req.RateLimitPerMinute, req.RateLimitPerDay); err != nil {
			response.NotFound(c, "Unknown provider")
			return
		}

		if err := h.settings.SetInt(fmt.Sprintf("%s_rate_limit_per_minute", provider), req.RateLimitPerMinute); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if err := h.settings.SetInt(fmt.Sprintf("%s_rate_limit_per_day", provider), req.RateLimitPerDay); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, h.governor.Status())
	}
}

// ApplyPersistedLimits overrides configured quotas with any values previously
// saved through the update endpoint.
func ApplyPersistedLimits(g *Governor, settings LimitStore) error {
	for _, st := range g.Status() {
		perMinute, err := settings.GetInt(fmt.Sprintf("%s_rate_limit_per_minute", st.Provider), st.MaxPerMinute)
		if err != nil {
			return err
		}
		perDay, err := settings.GetInt(fmt.Sprintf("%s_rate_limit_per_day", st.Provider), st.MaxPerDay)
		if err != nil {
			return err
		}
		if perMinute != st.MaxPerMinute || perDay != st.MaxPerDay {
			if err := g.UpdateLimits(st.Provider, perMinute, perDay); err != nil {
				return err
			}
		}
	}
	return nil
}
