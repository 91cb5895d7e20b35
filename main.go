package main

import (
	"log"

	"quizclash/config"
	"quizclash/handlers"
	"quizclash/middleware"
	"quizclash/models"
	"quizclash/routes"
	"quizclash/services"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Question{},
		&models.Room{},
		&models.RoomPlayer{},
		&models.RoomAnswer{},
		&models.QueueEntry{},
		&models.ProfileXP{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis: change feed + session snapshots
	redisClient := config.InitRedis(cfg)
	feed := services.NewRedisFeed(redisClient)

	// Initialize services
	store := services.NewStore(db, feed)
	backend := store.Backend()
	authService := services.NewAuthService(db, cfg.JWTSecret)
	questionService := services.NewQuestionService(backend.Questions)
	scoringService := services.NewScoringService(backend.Players, backend.Answers)
	matchmakingService := services.NewMatchmakingService(backend, questionService)

	newSessions := func(userID string) services.SessionStore {
		return services.NewRedisSessionStore(redisClient, userID)
	}

	// Initialize WebSocket hub
	hub := services.NewHub(backend, matchmakingService, questionService, scoringService, feed, newSessions)
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	questionHandler := handlers.NewQuestionHandler(questionService)
	roomHandler := handlers.NewRoomHandler(backend)
	matchmakingHandler := handlers.NewMatchmakingHandler(matchmakingService)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(router, authHandler, questionHandler, roomHandler, matchmakingHandler, hub, cfg.JWTSecret)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
