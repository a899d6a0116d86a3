package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyquote/skyquote/internal/services"
	"github.com/skyquote/skyquote/pkg/response"
)

// EventHandler exposes the audit trail read models.
type EventHandler struct {
	events *services.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *services.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// GET /api/admin/enquiries/:id/events
func (h *EventHandler) ListForEnquiry(c *gin.Context) {
	events, err := h.events.ListForEnquiry(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// GET /api/admin/applications/:id/events
func (h *EventHandler) ListForApplication(c *gin.Context) {
	events, err := h.events.ListForApplication(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}
