package api

import (
	"context"
	"database/sql"
	"strings"

	"todogram/internal/database"
	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
)

func ListLabelsHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		rows, err := db.QueryContext(c.Context(), `
			SELECT id, name, color, created_at
			FROM labels
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC`,
			user.ID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		labels := []models.Label{}
		for rows.Next() {
			var l models.Label
			if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
				return err
			}
			labels = append(labels, l)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		return c.JSON(fiber.Map{"labels": labels})
	}
}

// CreateLabelHandler upserts on (user, name): creating an existing label just
// refreshes its color.
func CreateLabelHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.CreateLabelRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		name := clampString(req.Name, labelTextMaxLen)
		if name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "label name is required")
		}
		raw := req.Color
		if strings.TrimSpace(raw) == "" {
			raw = defaultLabelColor
		}
		color, ok := parseLabelColor(raw)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "label color must be a valid hex color")
		}

		var label models.Label
		err := db.QueryRowContext(c.Context(), `
			INSERT INTO labels (user_id, name, color)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, name)
			DO UPDATE SET color = EXCLUDED.color
			RETURNING id, name, color, created_at`,
			user.ID, name, color,
		).Scan(&label.ID, &label.Name, &label.Color, &label.CreatedAt)
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"label": label})
	}
}

// UpdateLabelHandler renames a label and cascades the rename onto todos that
// reference the old name. The label row is locked (FOR UPDATE) for the whole
// read-then-cascade sequence so a concurrent rename cannot interleave.
func UpdateLabelHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.UpdateLabelRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if req.ID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "id is required")
		}
		name := clampString(req.Name, labelTextMaxLen)
		if name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "label name is required")
		}
		raw := req.Color
		if strings.TrimSpace(raw) == "" {
			raw = defaultLabelColor
		}
		color, ok := parseLabelColor(raw)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "label color must be a valid hex color")
		}

		var label models.Label
		var previousName string
		err := database.WithTx(c.Context(), db, func(ctx context.Context, tx database.DBTX) error {
			err := tx.QueryRowContext(ctx, `
				SELECT name FROM labels
				WHERE id = $1 AND user_id = $2
				FOR UPDATE`,
				req.ID, user.ID,
			).Scan(&previousName)
			if err == sql.ErrNoRows {
				return fiber.NewError(fiber.StatusNotFound, "label not found")
			}
			if err != nil {
				return err
			}

			err = tx.QueryRowContext(ctx, `
				UPDATE labels SET name = $1, color = $2
				WHERE id = $3 AND user_id = $4
				RETURNING id, name, color, created_at`,
				name, color, req.ID, user.ID,
			).Scan(&label.ID, &label.Name, &label.Color, &label.CreatedAt)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE todos SET label_text = $1, label_color = $2
				WHERE user_id = $3 AND label_text = $4`,
				name, color, user.ID, previousName)
			return err
		})
		if err != nil {
			if isUniqueViolation(err) {
				return fiber.NewError(fiber.StatusConflict, "label name already exists")
			}
			return err
		}

		return c.JSON(fiber.Map{"label": label, "previousName": previousName})
	}
}
