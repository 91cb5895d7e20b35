package handlers

import (
	"net/http"

	"quizclash/services"

	"github.com/gin-gonic/gin"
)

type MatchmakingHandler struct {
	matchmaking *services.MatchmakingService
}

func NewMatchmakingHandler(matchmaking *services.MatchmakingService) *MatchmakingHandler {
	return &MatchmakingHandler{matchmaking: matchmaking}
}

type matchmakingRequest struct {
	Action   string `json:"action" binding:"required"`
	Category string `json:"category"`
}

// Matchmake is the single-action RPC endpoint: find_match, check_match,
// cancel_match.
func (h *MatchmakingHandler) Matchmake(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	username, _ := c.Get("username")

	var req matchmakingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	switch req.Action {
	case "find_match":
		result, err := h.matchmaking.FindMatch(ctx, userID.(string), username.(string), req.Category)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, matchResponse(result))

	case "check_match":
		result, err := h.matchmaking.CheckMatch(ctx, userID.(string))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, matchResponse(result))

	case "cancel_match":
		if err := h.matchmaking.CancelMatch(ctx, userID.(string)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

func matchResponse(result *services.MatchResult) gin.H {
	resp := gin.H{"matched": result.Matched}
	if result.Room != nil {
		resp["room"] = result.Room
	}
	if result.Opponent != "" {
		resp["matchDetails"] = gin.H{"opponent": result.Opponent}
	}
	return resp
}
