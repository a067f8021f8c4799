package api

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Package-level logger used by the push pipeline; main swaps in the real one.
var logger = zap.NewNop().Sugar()

func SetLogger(lg *zap.SugaredLogger) {
	if lg != nil {
		logger = lg
	}
}

func SetupRoutes(app *fiber.App, db *sql.DB, cfg PushConfig) {
	api := app.Group("/api")

	// Auth: one path, method-dispatched, with a tagged action on POST.
	api.Get("/auth", MeHandler(db))
	api.Post("/auth", AuthActionHandler(db))
	api.Patch("/auth", RequireUser(db), UpdateProfileHandler(db))
	api.Delete("/auth", LogoutHandler(db))

	// Public push endpoints: key discovery and the cron-secret-guarded sweep.
	api.Get("/push/vapid-public-key", VapidPublicKeyHandler(cfg))
	api.Get("/notifications/reminders", ReminderSweepHandler(db, cfg))

	todos := api.Group("/todos", RequireUser(db))
	todos.Get("/", ListTodosHandler(db))
	todos.Post("/", CreateTodoHandler(db))
	todos.Patch("/", UpdateTodoHandler(db))
	todos.Delete("/", DeleteTodoHandler(db))

	labels := api.Group("/labels", RequireUser(db))
	labels.Get("/", ListLabelsHandler(db))
	labels.Post("/", CreateLabelHandler(db))
	labels.Patch("/", UpdateLabelHandler(db))

	comments := api.Group("/comments", RequireUser(db))
	comments.Post("/", CreateCommentHandler(db))
	comments.Patch("/", UpdateCommentHandler(db))
	comments.Delete("/", DeleteCommentHandler(db))

	subscriptions := api.Group("/notifications/subscriptions", RequireUser(db))
	subscriptions.Get("/", PushStatusHandler(cfg))
	subscriptions.Post("/", SubscribePushHandler(db, cfg))
	subscriptions.Delete("/", UnsubscribePushHandler(db))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
