package handlers

import (
	"net/http"

	"quizclash/services"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	backend *services.Backend
}

func NewRoomHandler(backend *services.Backend) *RoomHandler {
	return &RoomHandler{backend: backend}
}

// ListPublicRooms serves the lobby view over HTTP; live refreshes arrive
// through the change feed.
func (h *RoomHandler) ListPublicRooms(c *gin.Context) {
	rooms, err := h.backend.Rooms.ListPublicWaiting(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetXP returns the authenticated user's per-category XP totals.
func (h *RoomHandler) GetXP(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	rows, err := h.backend.Profiles.GetXP(c.Request.Context(), userID.(string))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load xp"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"xp": rows})
}
