package main

import (
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quizshow/database"
	"quizshow/handlers"
	"quizshow/middleware"
	"quizshow/realtime"
	"quizshow/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info().Msg(".env file not found, using system environment variables")
	}

	setupLogging()
	validateEnvironment()

	database.InitDB()
	defer database.CloseDB()

	// Wire services and handlers
	sessionService := services.NewSessionService()
	creditService := services.NewCreditService()
	generator := services.NewQuizGenerator()
	hub := realtime.NewHub()

	sessionHandler := handlers.NewSessionHandler(sessionService, generator)
	creditHandler := handlers.NewCreditHandler(creditService)
	wsHandler := handlers.NewWSHandler(hub, sessionService, creditService)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024, // 1MB
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	// CORS configuration
	corsOrigins := os.Getenv("CORS_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	// API Routes
	api := app.Group("/api")

	// Session routes
	api.Post("/sessions", middleware.HostAuthMiddleware, sessionHandler.CreateSession)
	api.Get("/sessions/:code/state", sessionHandler.GetSessionState)
	api.Post("/sessions/:code/join", sessionHandler.JoinSession)
	api.Get("/sessions/:code/leaderboard", sessionHandler.GetLeaderboard)
	api.Post("/sessions/:code/stop", middleware.HostAuthMiddleware, sessionHandler.StopSession)

	// Credit routes
	api.Get("/credits", middleware.HostAuthMiddleware, creditHandler.GetBalance)
	app.Post("/webhooks/payment", creditHandler.PaymentWebhook)

	// WebSocket endpoint
	app.Use("/ws", middleware.WebSocketAuthMiddleware, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"version":   "1.0.0",
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Info().
		Str("port", port).
		Str("env", getEnv("APP_ENV", "development")).
		Bool("jwt_configured", os.Getenv("JWT_SECRET") != "").
		Msg("server starting")

	if err := app.Listen(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if getEnv("APP_ENV", "development") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}
}

// validateEnvironment checks for required environment variables
func validateEnvironment() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable must be set. Generate one with: openssl rand -base64 64")
	}
	if len(jwtSecret) < 32 {
		log.Fatal().Msg("JWT_SECRET must be at least 32 characters long")
	}

	if os.Getenv("APP_ENV") == "production" {
		if os.Getenv("PAYMENT_WEBHOOK_SECRET") == "" {
			log.Warn().Msg("PAYMENT_WEBHOOK_SECRET not set, credit purchases disabled")
		}
		corsOrigins := os.Getenv("CORS_ORIGINS")
		if corsOrigins == "" || corsOrigins == "http://localhost:3000" {
			log.Warn().Msg("CORS_ORIGINS not properly configured for production")
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Don't expose internal errors in production
	if os.Getenv("APP_ENV") == "production" && code == 500 {
		message = "An error occurred. Please try again later."
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
