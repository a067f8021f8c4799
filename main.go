package main

import (
	"context"
	"os"
	"strings"

	"todogram/internal/api"
	"todogram/internal/database"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func newLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_DEV") == "1" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	// A .env file is optional for local development; real env always wins.
	_ = godotenv.Load()

	lg, err := newLogger()
	if err != nil {
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	api.SetLogger(sugar)

	db, err := database.Connect(os.Getenv("DATABASE_URL"))
	if err != nil {
		sugar.Fatalw("database connect", "err", err)
	}
	defer db.Close()

	// Migrations run to completion before the server accepts traffic;
	// handlers never check schema state themselves.
	if err := database.Migrate(context.Background(), db); err != nil {
		sugar.Fatalw("database migrate", "err", err)
	}

	pushCfg := api.PushConfigFromEnv()
	if !pushCfg.Configured() {
		sugar.Warn("web push not configured; reminder delivery disabled (set WEB_PUSH_PUBLIC_KEY, WEB_PUSH_PRIVATE_KEY, WEB_PUSH_SUBJECT)")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			} else {
				// Unexpected errors keep their detail server-side only.
				sugar.Errorw("request failed", "path", c.Path(), "err", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": message})
		},
	})

	app.Use(fiberlogger.New())

	allowedOrigins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173"
		sugar.Warn("using default ALLOWED_ORIGINS; set ALLOWED_ORIGINS for production")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true, // session cookie
	}))

	api.SetupRoutes(app, db, pushCfg)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	sugar.Infow("server starting", "port", port)
	if err := app.Listen(":" + port); err != nil {
		sugar.Fatalw("server stopped", "err", err)
	}
}
