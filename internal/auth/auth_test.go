package auth

import (
	"testing"
	"time"
)

func TestGenerateTokenRejectsUnknownCredentials(t *testing.T) {
	service := NewService("secret")

	_, err := service.GenerateToken(Credentials{APIKey: "nope", APISecret: "nope"})
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := service.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token.Token == "" {
		t.Fatal("empty token")
	}
	if !token.Expiration.After(time.Now().Add(23 * time.Hour)) {
		t.Errorf("expected ~24h expiry, got %v", token.Expiration)
	}

	claims, err := service.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.ClientID != TestAPIKey {
		t.Errorf("expected client id %s, got %s", TestAPIKey, claims.ClientID)
	}
	if len(claims.Permissions) == 0 {
		t.Error("expected default permissions")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	service := NewService("secret-a")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	token, err := service.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	other := NewService("secret-b")
	if _, err := other.ValidateToken(token.Token); err == nil {
		t.Error("token signed with a different secret should fail validation")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	service := NewService("secret")
	if _, err := service.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token should fail validation")
	}
}
