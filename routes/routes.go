package routes

import (
	"log"
	"net/http"

	"quizclash/handlers"
	"quizclash/middleware"
	"quizclash/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	questionHandler *handlers.QuestionHandler,
	roomHandler *handlers.RoomHandler,
	matchmakingHandler *handlers.MatchmakingHandler,
	hub *services.Hub,
	jwtSecret string,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			// Matchmaking RPC
			protected.POST("/matchmaking", matchmakingHandler.Matchmake)

			// Lobby and profile
			protected.GET("/rooms/public", roomHandler.ListPublicRooms)
			protected.GET("/profile/xp", roomHandler.GetXP)

			// Question bank
			questions := protected.Group("/questions")
			{
				questions.GET("", questionHandler.ListQuestions)
				questions.POST("", questionHandler.CreateQuestion)
			}
			protected.GET("/categories", questionHandler.ListCategories)
		}
	}

	// WebSocket endpoint carrying game actions and realtime notifications.
	// The token travels as a query parameter because browsers cannot set
	// headers on websocket upgrades.
	router.GET("/ws", func(c *gin.Context) {
		token := c.Query("token")
		userID, username, err := services.ParseToken(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for user %s: %v", userID, err)
			return
		}

		log.Printf("WebSocket connection established for user %s (%s)", userID, username)
		hub.RegisterClient(conn, userID, username)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
