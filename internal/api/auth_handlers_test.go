package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postAuth(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

// All of these fail validation before any store access, so a nil DB is fine.
func TestAuthActionValidationGates(t *testing.T) {
	app := newTestApp()
	app.Post("/api/auth", AuthActionHandler(nil))

	t.Run("login rejects short password", func(t *testing.T) {
		resp := postAuth(t, app, `{"action":"login","email":"a@example.com","password":"short"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "password must be at least 8 characters", errorBody(t, resp.Body))
	})

	t.Run("signup rejects short password", func(t *testing.T) {
		resp := postAuth(t, app, `{"action":"signup","email":"a@example.com","password":"short","username":"alice"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "password must be at least 8 characters", errorBody(t, resp.Body))
	})

	t.Run("missing credentials", func(t *testing.T) {
		resp := postAuth(t, app, `{"action":"login","email":"a@example.com"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "email and password are required", errorBody(t, resp.Body))
	})

	t.Run("unknown action", func(t *testing.T) {
		resp := postAuth(t, app, `{"action":"rotate","email":"a@example.com","password":"longenough1"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid action", errorBody(t, resp.Body))
	})
}
