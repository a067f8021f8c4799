package api

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"

	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ReminderSweepHandler is the cron-triggered scan for todos due in the
// [now+25m, now+35m] window. A 10-minute band swept at a >=10-minute cadence
// observes every due instant at least once; the ledger makes overlapping
// sweeps harmless.
func ReminderSweepHandler(db *sql.DB, cfg PushConfig) fiber.Handler {
	dispatcher := NewDispatcher(cfg)

	return func(c *fiber.Ctx) error {
		secret := strings.TrimSpace(os.Getenv("CRON_SECRET"))
		if secret == "" {
			return fiber.NewError(fiber.StatusForbidden, "missing cron secret")
		}
		if strings.TrimSpace(c.Get("Authorization")) != "Bearer "+secret {
			return fiber.NewError(fiber.StatusForbidden, "forbidden")
		}
		if !cfg.Configured() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "web push is not configured on server")
		}

		result, err := sweepDueReminders(c.Context(), db, dispatcher)
		if err != nil {
			return err
		}
		return c.JSON(result)
	}
}

func sweepDueReminders(ctx context.Context, db *sql.DB, dispatcher *Dispatcher) (models.ReminderSweepResult, error) {
	result := models.ReminderSweepResult{OK: true}

	// Only todos whose owner has at least one registered device are worth
	// scanning; the batch cap bounds work per invocation.
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.text, t.due_at
		FROM todos t
		WHERE t.done = FALSE
		  AND t.due_at IS NOT NULL
		  AND t.due_at BETWEEN NOW() + INTERVAL '25 minute' AND NOW() + INTERVAL '35 minute'
		  AND EXISTS (
		    SELECT 1 FROM push_subscriptions ps WHERE ps.user_id = t.user_id
		  )
		ORDER BY t.due_at ASC
		LIMIT 500`,
	)
	if err != nil {
		return result, err
	}
	defer rows.Close()

	var due []ReminderTodo
	seenUsers := map[int64]bool{}
	var userIDs []int64
	for rows.Next() {
		var todo ReminderTodo
		if err := rows.Scan(&todo.ID, &todo.UserID, &todo.Text, &todo.DueAt); err != nil {
			return result, err
		}
		due = append(due, todo)
		if !seenUsers[todo.UserID] {
			seenUsers[todo.UserID] = true
			userIDs = append(userIDs, todo.UserID)
		}
	}
	if err := rows.Err(); err != nil {
		return result, err
	}

	result.Scanned = len(due)
	if len(due) == 0 {
		return result, nil
	}

	subsByUser, err := fetchSubscriptions(ctx, db, userIDs)
	if err != nil {
		return result, err
	}

	staleEndpoints := map[string]bool{}
	for _, todo := range due {
		subs := subsByUser[todo.UserID]
		if len(subs) == 0 {
			result.Skipped++
			continue
		}

		// Idempotency boundary: the ledger insert either claims this
		// (todo, type, due instant) or reports it already claimed.
		// Overlapping or retried sweeps collapse to at most one send.
		var ledgerID int64
		err := db.QueryRowContext(ctx, `
			INSERT INTO todo_reminder_logs (todo_id, user_id, due_at, reminder_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (todo_id, reminder_type, due_at) DO NOTHING
			RETURNING id`,
			todo.ID, todo.UserID, todo.DueAt, ReminderTypeDue30m,
		).Scan(&ledgerID)
		if errors.Is(err, sql.ErrNoRows) {
			result.Skipped++
			continue
		}
		if err != nil {
			return result, err
		}

		delivery := dispatcher.Deliver(todo, subs)
		result.Notified += delivery.Sent
		for _, endpoint := range delivery.StaleEndpoints {
			staleEndpoints[endpoint] = true
		}
	}

	if len(staleEndpoints) > 0 {
		endpoints := make([]string, 0, len(staleEndpoints))
		for endpoint := range staleEndpoints {
			endpoints = append(endpoints, endpoint)
		}
		if _, err := db.ExecContext(ctx,
			"DELETE FROM push_subscriptions WHERE endpoint = ANY($1)", endpoints); err != nil {
			return result, err
		}
		result.StaleSubscriptionsRemoved = len(endpoints)
	}

	return result, nil
}

func fetchSubscriptions(ctx context.Context, db *sql.DB, userIDs []int64) (map[int64][]models.PushSubscription, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, locale
		FROM push_subscriptions
		WHERE user_id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byUser := map[int64][]models.PushSubscription{}
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.Locale); err != nil {
			return nil, err
		}
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}
	return byUser, rows.Err()
}
