package api

import (
	"database/sql"

	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
)

// PushStatusHandler lets clients ask whether push is worth offering at all.
func PushStatusHandler(cfg PushConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"configured": cfg.Configured()})
	}
}

// VapidPublicKeyHandler exposes the VAPID public key for client subscription.
func VapidPublicKeyHandler(cfg PushConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.PublicKey == "" {
			return fiber.NewError(fiber.StatusServiceUnavailable, "web push is not configured on server")
		}
		return c.JSON(fiber.Map{"publicKey": cfg.PublicKey})
	}
}

// SubscribePushHandler upserts a device registration by endpoint. A
// re-registration refreshes keys and metadata and reassigns the owner.
func SubscribePushHandler(db *sql.DB, cfg PushConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		if !cfg.Configured() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "web push is not configured on server")
		}

		var req models.SubscribeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		endpoint := clampString(req.Subscription.Endpoint, 2048)
		if endpoint == "" {
			return fiber.NewError(fiber.StatusBadRequest, "subscription endpoint is required")
		}
		if req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
			return fiber.NewError(fiber.StatusBadRequest, "subscription keys are required")
		}

		locale := clampString(req.Locale, localeMaxLen)
		if locale == "" {
			locale = "en-US"
		}
		timezone := clampString(req.Timezone, timezoneMaxLen)
		if timezone == "" {
			timezone = "UTC"
		}

		_, err := db.ExecContext(c.Context(), `
			INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, locale, timezone, user_agent, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (endpoint) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    p256dh = EXCLUDED.p256dh,
			    auth = EXCLUDED.auth,
			    locale = EXCLUDED.locale,
			    timezone = EXCLUDED.timezone,
			    user_agent = EXCLUDED.user_agent,
			    last_seen_at = NOW()`,
			user.ID, endpoint, req.Subscription.Keys.P256dh, req.Subscription.Keys.Auth,
			locale, timezone, clampString(req.UserAgent, userAgentMaxLen),
		)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"ok": true})
	}
}

// UnsubscribePushHandler removes one registration by endpoint, or all of the
// user's registrations when no endpoint is given.
func UnsubscribePushHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.UnsubscribeRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
			}
		}

		var (
			result sql.Result
			err    error
		)
		if req.Endpoint == "" {
			result, err = db.ExecContext(c.Context(),
				"DELETE FROM push_subscriptions WHERE user_id = $1", user.ID)
		} else {
			result, err = db.ExecContext(c.Context(),
				"DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2",
				user.ID, req.Endpoint)
		}
		if err != nil {
			return err
		}

		deleted, _ := result.RowsAffected()
		return c.JSON(fiber.Map{"deletedCount": deleted})
	}
}
