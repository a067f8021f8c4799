package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp mirrors the error handler from main so tests see the same
// {"error": ...} bodies clients do.
func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{"error": message})
		},
	})
}

func errorBody(t *testing.T, resp io.Reader) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp).Decode(&body))
	return body.Error
}

// The auth and configuration gates must all fire before any store access,
// so a nil DB is fine here.
func TestReminderSweepGates(t *testing.T) {
	configured := PushConfig{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:ops@example.com"}

	t.Run("missing server secret", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "")
		app := newTestApp()
		app.Get("/api/notifications/reminders", ReminderSweepHandler(nil, configured))

		req := httptest.NewRequest("GET", "/api/notifications/reminders", nil)
		req.Header.Set("Authorization", "Bearer anything")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "missing cron secret", errorBody(t, resp.Body))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "expected")
		app := newTestApp()
		app.Get("/api/notifications/reminders", ReminderSweepHandler(nil, configured))

		req := httptest.NewRequest("GET", "/api/notifications/reminders", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "forbidden", errorBody(t, resp.Body))
	})

	t.Run("missing authorization header", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "expected")
		app := newTestApp()
		app.Get("/api/notifications/reminders", ReminderSweepHandler(nil, configured))

		resp, err := app.Test(httptest.NewRequest("GET", "/api/notifications/reminders", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})

	t.Run("push unconfigured", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "expected")
		app := newTestApp()
		app.Get("/api/notifications/reminders", ReminderSweepHandler(nil, PushConfig{}))

		req := httptest.NewRequest("GET", "/api/notifications/reminders", nil)
		req.Header.Set("Authorization", "Bearer expected")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "web push is not configured on server", errorBody(t, resp.Body))
	})
}

const (
	dueTodosPattern      = `SELECT t\.id, t\.user_id, t\.text, t\.due_at\s+FROM todos t`
	subscriptionsPattern = `FROM push_subscriptions\s+WHERE user_id = ANY`
	ledgerInsertPattern  = `INSERT INTO todo_reminder_logs`
	stalePrunePattern    = `DELETE FROM push_subscriptions WHERE endpoint = ANY`
)

func TestSweepEmptyWindow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(dueTodosPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "text", "due_at"}))

	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		t.Error("nothing due, nothing may be sent")
		return pushResponse(http.StatusCreated), nil
	})

	result, err := sweepDueReminders(context.Background(), db, d)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Zero(t, result.Scanned)
	require.NoError(t, mock.ExpectationsWereMet())
}

// The ledger insert returning no row means another sweep already claimed this
// (todo, type, due instant); the todo is skipped without a send.
func TestSweepSkipsAlreadyClaimedReminder(t *testing.T) {
	db, mock := newMockDB(t)
	dueAt := time.Now().Add(30 * time.Minute).UTC()

	mock.ExpectQuery(dueTodosPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "text", "due_at"}).
			AddRow(int64(1), int64(10), "dentist", dueAt))

	mock.ExpectQuery(subscriptionsPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "endpoint", "p256dh", "auth", "locale"}).
			AddRow(int64(1), int64(10), "https://push.example/a", "k", "a", "en-US"))

	mock.ExpectQuery(ledgerInsertPattern).
		WithArgs(int64(1), int64(10), dueAt, ReminderTypeDue30m).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var sends int32
	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		atomic.AddInt32(&sends, 1)
		return pushResponse(http.StatusCreated), nil
	})

	result, err := sweepDueReminders(context.Background(), db, d)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Notified)
	assert.Zero(t, atomic.LoadInt32(&sends))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepDeliversAndPrunesStaleEndpoints(t *testing.T) {
	db, mock := newMockDB(t)
	dueAt := time.Now().Add(28 * time.Minute).UTC()

	mock.ExpectQuery(dueTodosPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "text", "due_at"}).
			AddRow(int64(5), int64(10), "standup", dueAt))

	mock.ExpectQuery(subscriptionsPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "endpoint", "p256dh", "auth", "locale"}).
			AddRow(int64(1), int64(10), "https://push.example/alive", "k1", "a1", "en-US").
			AddRow(int64(2), int64(10), "https://push.example/gone", "k2", "a2", "ko-KR"))

	mock.ExpectQuery(ledgerInsertPattern).
		WithArgs(int64(5), int64(10), dueAt, ReminderTypeDue30m).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	pruned := &captureArg{}
	mock.ExpectExec(stalePrunePattern).
		WithArgs(pruned).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		if s.Endpoint == "https://push.example/gone" {
			return pushResponse(http.StatusGone), nil
		}
		return pushResponse(http.StatusCreated), nil
	})

	result, err := sweepDueReminders(context.Background(), db, d)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Notified)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, 1, result.StaleSubscriptionsRemoved)
	assert.Equal(t, []string{"https://push.example/gone"}, pruned.value)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A todo whose owner lost every device between the scan and the subscription
// fetch is skipped before the ledger is touched.
func TestSweepSkipsOwnersWithoutDevices(t *testing.T) {
	db, mock := newMockDB(t)
	dueAt := time.Now().Add(26 * time.Minute).UTC()

	mock.ExpectQuery(dueTodosPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "text", "due_at"}).
			AddRow(int64(2), int64(20), "water the plants", dueAt).
			AddRow(int64(3), int64(30), "standup", dueAt))

	// Only user 20 still has a device.
	mock.ExpectQuery(subscriptionsPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "endpoint", "p256dh", "auth", "locale"}).
			AddRow(int64(1), int64(20), "https://push.example/a", "k", "a", "en-US"))

	mock.ExpectQuery(ledgerInsertPattern).
		WithArgs(int64(2), int64(20), dueAt, ReminderTypeDue30m).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		return pushResponse(http.StatusCreated), nil
	})

	result, err := sweepDueReminders(context.Background(), db, d)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.StaleSubscriptionsRemoved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPushConfigFromEnv(t *testing.T) {
	t.Setenv("WEB_PUSH_PUBLIC_KEY", " pub ")
	t.Setenv("WEB_PUSH_PRIVATE_KEY", "priv")
	t.Setenv("WEB_PUSH_SUBJECT", "")

	cfg := PushConfigFromEnv()
	assert.Equal(t, "pub", cfg.PublicKey)
	assert.Equal(t, "priv", cfg.PrivateKey)
	assert.Equal(t, "mailto:admin@example.com", cfg.Subject, "default subject")
	assert.True(t, cfg.Configured())

	t.Setenv("WEB_PUSH_PRIVATE_KEY", "")
	assert.False(t, PushConfigFromEnv().Configured())
}
