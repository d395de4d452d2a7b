package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusReporter exposes a component's status map
type StatusReporter interface {
	GetStatus() map[string]interface{}
}

// RealtimeController reports on the quote stream and the trigger archive
type RealtimeController struct {
	realtime StatusReporter
	archive  func() map[string]interface{}
}

// NewRealtimeController creates a new realtime controller. archive may be nil.
func NewRealtimeController(realtime StatusReporter, archive func() map[string]interface{}) *RealtimeController {
	return &RealtimeController{realtime: realtime, archive: archive}
}

// GetStatus returns poller and connection statistics
// GET /api/v1/realtime/status
func (rc *RealtimeController) GetStatus(c *gin.Context) {
	status := rc.realtime.GetStatus()
	if rc.archive != nil {
		status["archive"] = rc.archive()
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}
