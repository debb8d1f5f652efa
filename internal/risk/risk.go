// Package risk owns the trade limits and the pure pre-trade gate.
package risk

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/internal/types"
	"github.com/ksred/screener-api/pkg/response"
	"gorm.io/gorm"
)

// Service loads the state the gate needs and evaluates intents against it.
type Service struct {
	db   *Database
	mode types.TradingMode
	now  func() time.Time
}

func NewService(gormDB *gorm.DB, mode types.TradingMode) *Service {
	return &Service{
		db:   NewDatabase(gormDB),
		mode: mode,
		now:  time.Now,
	}
}

func (s *Service) Database() *Database { return s.db }

// Settings returns the limits row for the service's trading mode.
func (s *Service) Settings() (*RiskSettings, error) {
	return s.db.GetSettings(s.mode)
}

// Check gathers current spend/position state and runs the gate on intent.
func (s *Service) Check(intent types.OrderIntent) (Decision, error) {
	settings, err := s.Settings()
	if err != nil {
		return Decision{}, err
	}

	now := s.now()
	spendToday, err := s.db.SpendSince(s.mode, startOfDay(now))
	if err != nil {
		return Decision{}, err
	}
	spendWeek, err := s.db.SpendSince(s.mode, startOfWeek(now))
	if err != nil {
		return Decision{}, err
	}
	openCount, err := s.db.OpenPositionCount(s.mode)
	if err != nil {
		return Decision{}, err
	}
	existing, err := s.db.OpenPositionForSymbol(s.mode, intent.Symbol)
	if err != nil {
		return Decision{}, err
	}

	return Evaluate(intent, *settings, spendToday, spendWeek, openCount, existing), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the most recent Monday midnight.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// GinHandlers contains HTTP handlers for the risk settings endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := h.service.Settings()
		response.Handle(c, settings, err)
	}
}

type settingsRequest struct {
	Enabled                 *bool   `json:"enabled" binding:"required"`
	MaxTradeAmount          float64 `json:"max_trade_amount" binding:"gte=0"`
	DailySpendLimit         float64 `json:"daily_spend_limit" binding:"gte=0"`
	WeeklySpendLimit        float64 `json:"weekly_spend_limit" binding:"gte=0"`
	MaxOpenPositions        int     `json:"max_open_positions" binding:"gte=0"`
	DefaultStopLossPct      float64 `json:"default_stop_loss_pct" binding:"gte=0"`
	DefaultTakeProfitPct    float64 `json:"default_take_profit_pct" binding:"gte=0"`
	AllowDuplicatePositions bool    `json:"allow_duplicate_positions"`
}

func (h *GinHandlers) UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		settings, err := h.service.Settings()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		settings.Enabled = *req.Enabled
		settings.MaxTradeAmount = req.MaxTradeAmount
		settings.DailySpendLimit = req.DailySpendLimit
		settings.WeeklySpendLimit = req.WeeklySpendLimit
		settings.MaxOpenPositions = req.MaxOpenPositions
		settings.DefaultStopLossPct = req.DefaultStopLossPct
		settings.DefaultTakeProfitPct = req.DefaultTakeProfitPct
		settings.AllowDuplicatePositions = req.AllowDuplicatePositions

		if err := h.service.db.UpdateSettings(settings); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, settings)
	}
}
