// Package profiles owns the screening profile model and its CRUD boundary.
// The core reads profiles; creation and editing belong to the UI.
package profiles

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/pkg/response"
	"gorm.io/gorm"
)

// Service handles profile persistence and boundary validation.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

func (s *Service) Database() *Database { return s.db }

// profileRequest is the write shape accepted from the UI collaborator.
type profileRequest struct {
	Name                string    `json:"name" binding:"required"`
	AssetKind           AssetKind `json:"asset_kind" binding:"required"`
	Params              *Params   `json:"params" binding:"required"`
	Symbols             []string  `json:"symbols" binding:"required,min=1"`
	ScheduleEnabled     bool      `json:"schedule_enabled"`
	ScheduleIntervalSec int       `json:"schedule_interval_sec"`
	MarketHoursOnly     bool      `json:"market_hours_only"`
	AutoExecute         bool      `json:"auto_execute"`
	MaxOrderValue       float64   `json:"max_order_value"`
	StopLossPct         float64   `json:"stop_loss_pct"`
	TakeProfitPct       float64   `json:"take_profit_pct"`
}

func (r *profileRequest) apply(p *Profile) error {
	p.Name = r.Name
	p.AssetKind = r.AssetKind
	p.ScheduleEnabled = r.ScheduleEnabled
	p.ScheduleIntervalSec = r.ScheduleIntervalSec
	p.MarketHoursOnly = r.MarketHoursOnly
	p.AutoExecute = r.AutoExecute
	p.MaxOrderValue = r.MaxOrderValue
	p.StopLossPct = r.StopLossPct
	p.TakeProfitPct = r.TakeProfitPct
	if err := p.SetParams(r.Params); err != nil {
		return err
	}
	return p.SetSymbols(r.Symbols)
}

// GinHandlers contains HTTP handlers for profile CRUD.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		var profile Profile
		if err := req.apply(&profile); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.service.db.Create(&profile); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, profile)
	}
}

func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.db.List()
		response.Handle(c, list, err)
	}
}

func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := h.lookup(c)
		if !ok {
			return
		}
		response.Success(c, profile)
	}
}

func (h *GinHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := h.lookup(c)
		if !ok {
			return
		}

		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := req.apply(profile); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.service.db.Update(profile); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, profile)
	}
}

func (h *GinHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := h.lookup(c)
		if !ok {
			return
		}
		if err := h.service.db.Delete(profile.ID); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"deleted": profile.ID})
	}
}

func (h *GinHandlers) lookup(c *gin.Context) (*Profile, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "Invalid profile ID")
		return nil, false
	}
	profile, err := h.service.db.Get(uint(id))
	if err != nil {
		response.InternalError(c, err.Error())
		return nil, false
	}
	if profile == nil {
		response.NotFound(c, "Profile not found")
		return nil, false
	}
	return profile, true
}
