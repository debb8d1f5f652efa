package screener

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/screener-api/pkg/response"
)

// GinHandlers contains HTTP read handlers for scan results. The manual scan
// trigger lives with the scheduler so every run lands in the audit trail.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// LatestMatchesHandler handles GET requests for a profile's most recent
// matches.
func (h *GinHandlers) LatestMatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			response.BadRequest(c, "Invalid profile ID")
			return
		}
		matches, err := h.service.db.LatestMatches(uint(id), 0)
		response.Handle(c, matches, err)
	}
}
