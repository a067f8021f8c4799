package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"todogram/internal/database"
	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
)

const defaultLabelColor = "#64748b"

// rolloverOverdue advances the due date of rollover-enabled, not-done todos
// by whole-day increments until it lands in the future. This deliberately
// runs as a side effect of listing, matching the product behavior: the list
// a user sees never shows a stale rollover date.
func rolloverOverdue(ctx context.Context, db database.DBTX, userID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE todos
		SET due_at = due_at + (((FLOOR(EXTRACT(EPOCH FROM (NOW() - due_at)) / 86400) + 1)::INT) * INTERVAL '1 day')
		WHERE user_id = $1
		  AND done = FALSE
		  AND rollover_enabled = TRUE
		  AND due_at IS NOT NULL
		  AND due_at < NOW()`,
		userID,
	)
	return err
}

func ListTodosHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		if err := rolloverOverdue(c.Context(), db, user.ID); err != nil {
			return err
		}

		rows, err := db.QueryContext(c.Context(), `
			SELECT id, text, status, done, due_at, location, label_text, label_color,
			       rollover_enabled, position, created_at
			FROM todos
			WHERE user_id = $1
			ORDER BY position ASC, created_at DESC`,
			user.ID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		todos := []models.Todo{}
		byID := map[int64]*models.Todo{}
		for rows.Next() {
			var t models.Todo
			if err := rows.Scan(&t.ID, &t.Text, &t.Status, &t.Done, &t.DueAt, &t.Location,
				&t.LabelText, &t.LabelColor, &t.RolloverEnabled, &t.Position, &t.CreatedAt); err != nil {
				return err
			}
			t.Comments = []models.Comment{}
			todos = append(todos, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range todos {
			byID[todos[i].ID] = &todos[i]
		}

		commentRows, err := db.QueryContext(c.Context(), `
			SELECT c.id, c.todo_id, c.text, c.created_at
			FROM comments c
			JOIN todos t ON t.id = c.todo_id
			WHERE t.user_id = $1
			ORDER BY c.created_at DESC`,
			user.ID,
		)
		if err != nil {
			return err
		}
		defer commentRows.Close()

		for commentRows.Next() {
			var cm models.Comment
			if err := commentRows.Scan(&cm.ID, &cm.TodoID, &cm.Text, &cm.CreatedAt); err != nil {
				return err
			}
			if target, ok := byID[cm.TodoID]; ok {
				cm.TodoID = 0
				target.Comments = append(target.Comments, cm)
			}
		}
		if err := commentRows.Err(); err != nil {
			return err
		}

		return c.JSON(fiber.Map{"todos": todos})
	}
}

// CreateTodoHandler inserts a todo above all existing ones (MIN(position)-1)
// so new items appear at the top of the list.
func CreateTodoHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.CreateTodoRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		text := strings.TrimSpace(req.Text)
		if text == "" {
			return fiber.NewError(fiber.StatusBadRequest, "text is required")
		}

		var dueAt any
		if req.DueAt != nil && strings.TrimSpace(*req.DueAt) != "" {
			parsed, ok := parseDueAt(*req.DueAt)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, "dueAt must be a valid datetime")
			}
			dueAt = parsed
		}

		status := "active"
		if req.Status != nil {
			parsed, ok := parseTodoStatus(*req.Status)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, "status must be one of waiting, active, done")
			}
			status = parsed
		}

		labelText := clampString(req.LabelText, labelTextMaxLen)
		labelColor := defaultLabelColor
		if labelText != "" {
			raw := req.LabelColor
			if strings.TrimSpace(raw) == "" {
				raw = defaultLabelColor
			}
			parsed, ok := parseLabelColor(raw)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, "labelColor must be a valid hex color")
			}
			labelColor = parsed
		}

		var todo models.Todo
		err := db.QueryRowContext(c.Context(), `
			INSERT INTO todos (user_id, text, status, done, due_at, location, label_text, label_color, rollover_enabled, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			        COALESCE((SELECT MIN(position) FROM todos WHERE user_id = $1), 1) - 1)
			RETURNING id, text, status, done, due_at, location, label_text, label_color, rollover_enabled, position, created_at`,
			user.ID, text, status, statusToDone(status), dueAt,
			clampString(req.Location, locationMaxLen), labelText, labelColor, req.RolloverEnabled,
		).Scan(&todo.ID, &todo.Text, &todo.Status, &todo.Done, &todo.DueAt, &todo.Location,
			&todo.LabelText, &todo.LabelColor, &todo.RolloverEnabled, &todo.Position, &todo.CreatedAt)
		if err != nil {
			return err
		}
		todo.Comments = []models.Comment{}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"todo": todo})
	}
}

// UpdateTodoHandler handles both bulk reordering ({order: [...ids]}) and
// partial field updates on a single todo.
func UpdateTodoHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.UpdateTodoRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if len(req.Order) > 0 {
			return reorderTodos(c, db, user.ID, req.Order)
		}

		if req.ID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "id is required")
		}

		updates := []string{}
		values := []any{}
		add := func(column string, value any) {
			values = append(values, value)
			updates = append(updates, fmt.Sprintf("%s = $%d", column, len(values)))
		}

		if req.Status != nil {
			status, ok := parseTodoStatus(*req.Status)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, "status must be one of waiting, active, done")
			}
			add("status", status)
			add("done", statusToDone(status))
		} else if req.Done != nil {
			add("done", *req.Done)
			if *req.Done {
				add("status", "done")
			} else {
				add("status", "active")
			}
		}

		if req.Text != nil {
			text := strings.TrimSpace(*req.Text)
			if text == "" {
				return fiber.NewError(fiber.StatusBadRequest, "text must not be empty")
			}
			add("text", text)
		}

		if len(req.DueAt) > 0 {
			if string(req.DueAt) == "null" {
				add("due_at", nil)
			} else {
				var raw string
				if err := json.Unmarshal(req.DueAt, &raw); err != nil {
					return fiber.NewError(fiber.StatusBadRequest, "dueAt must be a valid datetime")
				}
				if strings.TrimSpace(raw) == "" {
					add("due_at", nil)
				} else {
					parsed, ok := parseDueAt(raw)
					if !ok {
						return fiber.NewError(fiber.StatusBadRequest, "dueAt must be a valid datetime")
					}
					add("due_at", parsed)
				}
			}
		}

		if req.Location != nil {
			add("location", clampString(*req.Location, locationMaxLen))
		}
		if req.LabelText != nil {
			add("label_text", clampString(*req.LabelText, labelTextMaxLen))
		}
		if req.LabelColor != nil {
			color, ok := parseLabelColor(*req.LabelColor)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, "labelColor must be a valid hex color")
			}
			add("label_color", color)
		}
		if req.RolloverEnabled != nil {
			add("rollover_enabled", *req.RolloverEnabled)
		}

		if len(updates) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "no valid fields to update")
		}

		values = append(values, req.ID, user.ID)
		query := fmt.Sprintf(`
			UPDATE todos SET %s
			WHERE id = $%d AND user_id = $%d
			RETURNING id, text, status, done, due_at, location, label_text, label_color, rollover_enabled, position, created_at`,
			strings.Join(updates, ", "), len(values)-1, len(values))

		var todo models.Todo
		err := db.QueryRowContext(c.Context(), query, values...).
			Scan(&todo.ID, &todo.Text, &todo.Status, &todo.Done, &todo.DueAt, &todo.Location,
				&todo.LabelText, &todo.LabelColor, &todo.RolloverEnabled, &todo.Position, &todo.CreatedAt)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "todo not found")
		}
		if err != nil {
			return err
		}
		todo.Comments = []models.Comment{}

		return c.JSON(fiber.Map{"todo": todo})
	}
}

// reorderTodos persists a drag-and-drop ordering as 1-based positions,
// atomically so readers never see a half-applied order.
func reorderTodos(c *fiber.Ctx, db *sql.DB, userID int64, order []int64) error {
	err := database.WithTx(c.Context(), db, func(ctx context.Context, tx database.DBTX) error {
		for index, id := range order {
			if _, err := tx.ExecContext(ctx,
				"UPDATE todos SET position = $1 WHERE id = $2 AND user_id = $3",
				index+1, id, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

// DeleteTodoHandler deletes one todo by ?id=, or all completed todos with
// ?done=true.
func DeleteTodoHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		if c.Query("done") == "true" {
			result, err := db.ExecContext(c.Context(),
				"DELETE FROM todos WHERE done = TRUE AND user_id = $1", user.ID)
			if err != nil {
				return err
			}
			deleted, _ := result.RowsAffected()
			return c.JSON(fiber.Map{"deletedCount": deleted})
		}

		id, err := strconv.ParseInt(c.Query("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "id query is required")
		}

		var deletedID int64
		err = db.QueryRowContext(c.Context(),
			"DELETE FROM todos WHERE id = $1 AND user_id = $2 RETURNING id",
			id, user.ID).Scan(&deletedID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "todo not found")
		}
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"deletedId": deletedID})
	}
}
