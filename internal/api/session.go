package api

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"todogram/internal/auth"
	"todogram/internal/database"
	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	SessionCookieName = "session"
	sessionTTL        = 30 * 24 * time.Hour
)

// secureCookies reports whether the Secure attribute should be set: either
// the request arrived over HTTPS (directly or via proxy) or we are running
// in production.
func secureCookies(c *fiber.Ctx) bool {
	if c.Secure() || c.Get("X-Forwarded-Proto") == "https" {
		return true
	}
	return os.Getenv("APP_ENV") == "production"
}

func sessionCookie(c *fiber.Ctx, token string, maxAge time.Duration) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HTTPOnly: true,
		Secure:   secureCookies(c),
		SameSite: "Lax",
	}
}

// CreateSession issues an opaque token, persists its hash with a 30-day
// expiry, and sets the session cookie on the response.
func CreateSession(c *fiber.Ctx, db database.DBTX, userID int64) error {
	token, err := auth.NewSessionToken()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(sessionTTL)
	_, err = db.ExecContext(c.Context(),
		"INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)",
		userID, auth.HashToken(token), expiresAt,
	)
	if err != nil {
		return err
	}

	c.Cookie(sessionCookie(c, token, sessionTTL))
	return nil
}

// ResolveSession maps a raw cookie token to its user. Returns (nil, nil) for
// unknown and expired tokens alike; callers cannot tell the two apart.
func ResolveSession(ctx context.Context, db database.DBTX, token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}

	var user models.User
	err := db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.username, u.avatar_url
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.expires_at > NOW()
		LIMIT 1`,
		auth.HashToken(token),
	).Scan(&user.ID, &user.Email, &user.Username, &user.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// RevokeSession deletes the session row for the request's cookie (a no-op if
// none exists) and clears the cookie.
func RevokeSession(c *fiber.Ctx, db database.DBTX) error {
	if token := c.Cookies(SessionCookieName); token != "" {
		if _, err := db.ExecContext(c.Context(),
			"DELETE FROM sessions WHERE token_hash = $1", auth.HashToken(token)); err != nil {
			return err
		}
	}

	cleared := sessionCookie(c, "", 0)
	cleared.Expires = time.Now().Add(-time.Hour)
	c.Cookie(cleared)
	return nil
}

// RequireUser guards protected routes. On a missing or unresolvable session
// it short-circuits with 401 before any handler side effects run.
func RequireUser(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(SessionCookieName)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}

		user, err := ResolveSession(c.Context(), db, token)
		if err != nil {
			return err
		}
		if user == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}

		c.Locals("user", user)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) *models.User {
	return c.Locals("user").(*models.User)
}
