package scheduler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/internal/types"
	"github.com/ksred/screener-api/pkg/response"
)

// GinHandlers contains HTTP handlers for scheduler control, the manual scan
// trigger, and the job-run audit trail.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) StartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Start(); err != nil {
			if err == types.ErrSchedulerRunning {
				response.Conflict(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, h.service.Status())
	}
}

func (h *GinHandlers) StopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Stop(); err != nil {
			if err == types.ErrSchedulerNotRunning {
				response.Conflict(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, h.service.Status())
	}
}

func (h *GinHandlers) ReloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Reload(); err != nil {
			if err == types.ErrSchedulerNotRunning {
				response.Conflict(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, h.service.Status())
	}
}

func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.Status())
	}
}

// ManualScanHandler handles POST requests to run a scan immediately,
// bypassing the schedule.
func (h *GinHandlers) ManualScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			response.BadRequest(c, "Invalid profile ID")
			return
		}

		result, err := h.service.ManualScan(uint(id))
		switch err {
		case nil:
		case types.ErrProfileNotFound:
			response.NotFound(c, err.Error())
			return
		case types.ErrScanAlreadyRunning:
			response.Conflict(c, err.Error())
			return
		default:
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, types.ScanResponse{
			ProfileID:  result.ProfileID,
			Matches:    result.Matches,
			MatchCount: len(result.Matches),
			DurationMs: result.Duration.Milliseconds(),
		})
	}
}

func (h *GinHandlers) ListJobRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := h.service.db.ListJobRuns(0)
		response.Handle(c, runs, err)
	}
}
