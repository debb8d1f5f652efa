package executor

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/internal/types"
	"github.com/ksred/screener-api/pkg/response"
)

// GinHandlers contains HTTP handlers for manual trading and read endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ExecuteTradeHandler handles POST requests for manual trades. Manual trades
// still pass through the risk gate.
func (h *GinHandlers) ExecuteTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var intent types.OrderIntent
		if err := c.ShouldBindJSON(&intent); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.service.Submit(intent)
		switch {
		case err == nil:
			response.Success(c, record)
		case types.IsRiskViolation(err):
			response.RiskViolation(c, err.Error(), record)
		case types.IsBrokerRejection(err):
			response.BrokerRejection(c, err.Error(), record)
		default:
			response.InternalError(c, err.Error())
		}
	}
}

// GetTradeHandler handles GET requests for a single trade by its public id.
// Records from the other trading mode read as not found.
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trade, err := h.service.GetTrade(c.Param("trade_id"))
		switch {
		case err == types.ErrWrongTradingMode:
			response.NotFound(c, "Trade not found")
		case err != nil:
			response.InternalError(c, err.Error())
		case trade == nil:
			response.NotFound(c, "Trade not found")
		default:
			response.Success(c, trade)
		}
	}
}

// ListTradesHandler handles GET requests for the trade history in the
// current mode.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.service.db.ListTrades(h.service.mode, 0)
		response.Handle(c, trades, err)
	}
}

// ListPositionsHandler handles GET requests for open positions in the
// current mode.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := h.service.db.ListPositions(h.service.mode)
		response.Handle(c, positions, err)
	}
}

// ListClosedPositionsHandler handles GET requests for the closed-position
// history in the current mode.
func (h *GinHandlers) ListClosedPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		closed, err := h.service.db.ListClosedPositions(h.service.mode, 0)
		response.Handle(c, closed, err)
	}
}
