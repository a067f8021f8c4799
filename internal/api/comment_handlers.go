package api

import (
	"database/sql"
	"strconv"
	"strings"

	"todogram/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Comments are scoped through their todo: every statement joins on the
// todo's owner, so a comment on someone else's todo reads as "not found".

func CreateCommentHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.CreateCommentRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if req.TodoID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "todoId is required")
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return fiber.NewError(fiber.StatusBadRequest, "text is required")
		}

		var comment models.Comment
		err := db.QueryRowContext(c.Context(), `
			INSERT INTO comments (todo_id, text)
			SELECT t.id, $2
			FROM todos t
			WHERE t.id = $1 AND t.user_id = $3
			RETURNING id, todo_id, text, created_at`,
			req.TodoID, text, user.ID,
		).Scan(&comment.ID, &comment.TodoID, &comment.Text, &comment.CreatedAt)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "todo not found")
		}
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": comment})
	}
}

func UpdateCommentHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		var req models.UpdateCommentRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if req.ID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "id is required")
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return fiber.NewError(fiber.StatusBadRequest, "text must not be empty")
		}

		var comment models.Comment
		err := db.QueryRowContext(c.Context(), `
			UPDATE comments c
			SET text = $1
			FROM todos t
			WHERE c.id = $2
			  AND c.todo_id = t.id
			  AND t.user_id = $3
			RETURNING c.id, c.todo_id, c.text, c.created_at`,
			text, req.ID, user.ID,
		).Scan(&comment.ID, &comment.TodoID, &comment.Text, &comment.CreatedAt)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "comment not found")
		}
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"comment": comment})
	}
}

func DeleteCommentHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)

		id, err := strconv.ParseInt(c.Query("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "id query is required")
		}

		var deletedID int64
		err = db.QueryRowContext(c.Context(), `
			DELETE FROM comments c
			USING todos t
			WHERE c.id = $1
			  AND c.todo_id = t.id
			  AND t.user_id = $2
			RETURNING c.id`,
			id, user.ID,
		).Scan(&deletedID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "comment not found")
		}
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"deletedId": deletedID})
	}
}
