package health

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codefinch/classroom-backend/internal/middleware"
	"github.com/codefinch/classroom-backend/pkg/response"
)

// RoomBroadcaster pushes an event to every participant of a session's room.
type RoomBroadcaster interface {
	Broadcast(sessionID, event string, payload interface{})
}

// Handler exposes the quality monitor over HTTP.
type Handler struct {
	monitor *Monitor
	rooms   RoomBroadcaster
	logger  *zap.Logger
}

// NewHandler creates a health handler. rooms may be nil (no advisory fan-out).
func NewHandler(monitor *Monitor, rooms RoomBroadcaster, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{monitor: monitor, rooms: rooms, logger: logger}
}

// Report handles POST /sessions/:id/health: scores one metrics sample and
// returns the advisory. Escalation advisories are also pushed to the room.
func (h *Handler) Report(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		response.BadRequest(c, "session id required")
		return
	}
	userID, ok := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !ok {
		response.Unauthorized(c, "invalid user")
		return
	}

	var metrics NetworkMetrics
	if err := c.ShouldBindJSON(&metrics); err != nil {
		response.BadRequest(c, "invalid metrics payload")
		return
	}

	adv := h.monitor.Observe(sessionID, userID, metrics)
	if h.rooms != nil && (adv.SwitchRegion || adv.ExternalFallback) {
		h.rooms.Broadcast(sessionID, "quality_advisory", gin.H{
			"user_id":           userID.String(),
			"window_average":    adv.WindowAverage,
			"switch_region":     adv.SwitchRegion,
			"external_fallback": adv.ExternalFallback,
		})
	}
	response.OK(c, adv)
}

// GetWindow handles GET /sessions/:id/health: returns the caller's current
// score window for call-quality UI.
func (h *Handler) GetWindow(c *gin.Context) {
	sessionID := c.Param("id")
	userID, ok := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !ok {
		response.Unauthorized(c, "invalid user")
		return
	}
	scores := h.monitor.Window(sessionID, userID)
	response.OK(c, gin.H{
		"scores":  scores,
		"average": AverageHealthScore(scores),
	})
}
