package governor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/internal/config"
)

// fakeLimitStore is an in-memory LimitStore; the handlers only need typed
// get/set, never the settings table itself.
type fakeLimitStore struct {
	ints map[string]int
}

func newFakeLimitStore() *fakeLimitStore {
	return &fakeLimitStore{ints: make(map[string]int)}
}

func (s *fakeLimitStore) GetInt(key string, fallback int) (int, error) {
	if v, ok := s.ints[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func (s *fakeLimitStore) SetInt(key string, value int) error {
	s.ints[key] = value
	return nil
}

func providerStatus(g *Governor, name string) (int, int) {
	for _, st := range g.Status() {
		if st.Provider == name {
			return st.MaxPerMinute, st.MaxPerDay
		}
	}
	return 0, 0
}

func TestApplyPersistedLimitsOverridesConfig(t *testing.T) {
	g := newTestGovernor(newFakeClock(), map[string]config.ProviderConfig{
		"quotes": {RateLimitPerMinute: 10, RateLimitPerDay: 100},
	})
	store := newFakeLimitStore()
	store.ints["quotes_rate_limit_per_minute"] = 3
	store.ints["quotes_rate_limit_per_day"] = 30

	if err := ApplyPersistedLimits(g, store); err != nil {
		t.Fatalf("ApplyPersistedLimits failed: %v", err)
	}
	perMinute, perDay := providerStatus(g, "quotes")
	if perMinute != 3 || perDay != 30 {
		t.Errorf("expected persisted 3/30, got %d/%d", perMinute, perDay)
	}
}

func TestApplyPersistedLimitsNoOverridesKeepsConfig(t *testing.T) {
	g := newTestGovernor(newFakeClock(), map[string]config.ProviderConfig{
		"quotes": {RateLimitPerMinute: 10, RateLimitPerDay: 100},
	})
	if err := ApplyPersistedLimits(g, newFakeLimitStore()); err != nil {
		t.Fatalf("ApplyPersistedLimits failed: %v", err)
	}
	perMinute, perDay := providerStatus(g, "quotes")
	if perMinute != 10 || perDay != 100 {
		t.Errorf("expected configured 10/100, got %d/%d", perMinute, perDay)
	}
}

func TestUpdateLimitsHandlerPersistsNewQuotas(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newTestGovernor(newFakeClock(), map[string]config.ProviderConfig{
		"quotes": {RateLimitPerMinute: 10, RateLimitPerDay: 100},
	})
	store := newFakeLimitStore()
	handlers := NewGinHandlers(g, store)

	router := gin.New()
	router.PUT("/rate-limits/:provider", handlers.UpdateLimitsHandler())

	body, _ := json.Marshal(map[string]int{
		"rate_limit_per_minute": 7,
		"rate_limit_per_day":    70,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/rate-limits/quotes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if perMinute, perDay := providerStatus(g, "quotes"); perMinute != 7 || perDay != 70 {
		t.Errorf("governor not updated, got %d/%d", perMinute, perDay)
	}
	if store.ints["quotes_rate_limit_per_minute"] != 7 || store.ints["quotes_rate_limit_per_day"] != 70 {
		t.Errorf("quotas not persisted: %+v", store.ints)
	}
}

func TestUpdateLimitsHandlerUnknownProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newTestGovernor(newFakeClock(), map[string]config.ProviderConfig{})
	handlers := NewGinHandlers(g, newFakeLimitStore())

	router := gin.New()
	router.PUT("/rate-limits/:provider", handlers.UpdateLimitsHandler())

	body, _ := json.Marshal(map[string]int{"rate_limit_per_minute": 7})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/rate-limits/nope", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
