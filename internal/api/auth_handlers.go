package api

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"todogram/internal/auth"
	"todogram/internal/database"
	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// lockUsername serializes case-insensitive uniqueness checks against
// concurrent writes of the same name. The lock is transaction-scoped and
// keyed on the lowercase form, matching the unique index.
func lockUsername(ctx context.Context, tx database.DBTX, username string) error {
	_, err := tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))", strings.ToLower(username))
	return err
}

func usernameTaken(ctx context.Context, db database.DBTX, username string, excludeUserID int64) (bool, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		"SELECT id FROM users WHERE lower(username) = lower($1) LIMIT 1", username,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return id != excludeUserID, nil
}

// MeHandler returns the authenticated user, or 401 when the session cookie
// is absent, unknown, or expired.
func MeHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := ResolveSession(c.Context(), db, c.Cookies(SessionCookieName))
		if err != nil {
			return err
		}
		if user == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		return c.JSON(fiber.Map{"user": user})
	}
}

// AuthActionHandler dispatches POST /api/auth on the request's action tag:
// signup, login, or check-username.
func AuthActionHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.AuthActionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Username = normalizeUsername(req.Username)

		switch req.Action {
		case "check-username":
			return checkUsername(c, db, req)
		case "signup":
			return signup(c, db, req)
		case "login":
			return login(c, db, req)
		}
		return fiber.NewError(fiber.StatusBadRequest, "invalid action")
	}
}

func checkUsername(c *fiber.Ctx, db *sql.DB, req models.AuthActionRequest) error {
	if req.Username == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username is required")
	}
	if !validUsername(req.Username) {
		return fiber.NewError(fiber.StatusBadRequest, "username must be between 2 and 24 characters")
	}

	// A user checking their own current name still sees it as available.
	var excludeID int64
	if current, err := ResolveSession(c.Context(), db, c.Cookies(SessionCookieName)); err != nil {
		return err
	} else if current != nil {
		excludeID = current.ID
	}

	taken, err := usernameTaken(c.Context(), db, req.Username, excludeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"available": !taken})
}

func signup(c *fiber.Ctx, db *sql.DB, req models.AuthActionRequest) error {
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
	}
	if len(req.Password) < passwordMinLen {
		return fiber.NewError(fiber.StatusBadRequest, "password must be at least 8 characters")
	}
	if req.Username == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username is required")
	}
	if !validUsername(req.Username) {
		return fiber.NewError(fiber.StatusBadRequest, "username must be between 2 and 24 characters")
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	var user models.User
	err = database.WithTx(c.Context(), db, func(ctx context.Context, tx database.DBTX) error {
		if err := lockUsername(ctx, tx, req.Username); err != nil {
			return err
		}

		var existingID int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM users WHERE email = $1 LIMIT 1", req.Email).Scan(&existingID)
		if err == nil {
			return fiber.NewError(fiber.StatusConflict, "email already registered")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		taken, err := usernameTaken(ctx, tx, req.Username, 0)
		if err != nil {
			return err
		}
		if taken {
			return fiber.NewError(fiber.StatusConflict, "username already exists")
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO users (email, username, password_hash, avatar_url)
			VALUES ($1, $2, $3, '')
			RETURNING id, email, username, avatar_url`,
			req.Email, req.Username, passwordHash,
		).Scan(&user.ID, &user.Email, &user.Username, &user.AvatarURL)
	})
	if err != nil {
		// Backstop for the unique indexes racing past the advisory lock.
		if isUniqueViolation(err) {
			return fiber.NewError(fiber.StatusConflict, "username already exists")
		}
		return err
	}

	if err := CreateSession(c, db, user.ID); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

func login(c *fiber.Ctx, db *sql.DB, req models.AuthActionRequest) error {
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
	}
	if len(req.Password) < passwordMinLen {
		return fiber.NewError(fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	var user models.User
	err := db.QueryRowContext(c.Context(), `
		SELECT id, email, username, avatar_url, password_hash
		FROM users WHERE email = $1 LIMIT 1`,
		req.Email,
	).Scan(&user.ID, &user.Email, &user.Username, &user.AvatarURL, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return err
	}

	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	if err := CreateSession(c, db, user.ID); err != nil {
		return err
	}
	user.PasswordHash = ""
	return c.JSON(fiber.Map{"user": user})
}

// UpdateProfileHandler applies partial profile changes (username, avatar).
// Username changes run under the advisory lock so the case-insensitive
// uniqueness check and the unique index cannot disagree.
func UpdateProfileHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.UpdateProfileRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		var username string
		if req.Username != nil {
			username = normalizeUsername(*req.Username)
			if username == "" {
				return fiber.NewError(fiber.StatusBadRequest, "username is required")
			}
			if !validUsername(username) {
				return fiber.NewError(fiber.StatusBadRequest, "username must be between 2 and 24 characters")
			}
		}

		var avatarURL string
		if req.AvatarURL != nil {
			parsed, err := parseAvatarURL(*req.AvatarURL)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			avatarURL = parsed
		}

		if req.Username == nil && req.AvatarURL == nil {
			return fiber.NewError(fiber.StatusBadRequest, "no valid fields to update")
		}

		var updated models.User
		err := database.WithTx(c.Context(), db, func(ctx context.Context, tx database.DBTX) error {
			if req.Username != nil {
				if err := lockUsername(ctx, tx, username); err != nil {
					return err
				}
				taken, err := usernameTaken(ctx, tx, username, user.ID)
				if err != nil {
					return err
				}
				if taken {
					return fiber.NewError(fiber.StatusConflict, "username already exists")
				}
			} else {
				username = user.Username
			}
			if req.AvatarURL == nil {
				avatarURL = user.AvatarURL
			}

			return tx.QueryRowContext(ctx, `
				UPDATE users SET username = $1, avatar_url = $2
				WHERE id = $3
				RETURNING id, email, username, avatar_url`,
				username, avatarURL, user.ID,
			).Scan(&updated.ID, &updated.Email, &updated.Username, &updated.AvatarURL)
		})
		if err != nil {
			if isUniqueViolation(err) {
				return fiber.NewError(fiber.StatusConflict, "username already exists")
			}
			return err
		}

		return c.JSON(fiber.Map{"user": updated})
	}
}

// LogoutHandler revokes the current session; revoking a nonexistent session
// is not an error.
func LogoutHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := RevokeSession(c, db); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"ok": true})
	}
}
