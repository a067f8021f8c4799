package models

import (
	"encoding/json"
	"time"
)

// User is the public account shape. The password hash never leaves the server.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatarUrl"`
	PasswordHash string `json:"-"`
}

type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Todo struct {
	ID              int64      `json:"id"`
	Text            string     `json:"text"`
	Status          string     `json:"status"`
	Done            bool       `json:"done"`
	DueAt           *time.Time `json:"dueAt"`
	Location        string     `json:"location"`
	LabelText       string     `json:"labelText"`
	LabelColor      string     `json:"labelColor"`
	RolloverEnabled bool       `json:"rolloverEnabled"`
	Position        int        `json:"position"`
	CreatedAt       time.Time  `json:"createdAt"`
	Comments        []Comment  `json:"comments"`
}

type Comment struct {
	ID        int64     `json:"id"`
	TodoID    int64     `json:"todoId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Label struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

type PushSubscription struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
	Locale   string `json:"locale"`
}

// AuthActionRequest is the discriminated POST /api/auth body. Action selects
// which of the remaining fields are required.
type AuthActionRequest struct {
	Action   string `json:"action"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// UpdateProfileRequest carries optional profile mutations; nil means the
// field was absent from the request body.
type UpdateProfileRequest struct {
	Username  *string `json:"username"`
	AvatarURL *string `json:"avatarUrl"`
}

type SubscribeRequest struct {
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	Locale    string `json:"locale"`
	Timezone  string `json:"timezone"`
	UserAgent string `json:"userAgent"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type CreateTodoRequest struct {
	Text            string  `json:"text"`
	DueAt           *string `json:"dueAt"`
	Location        string  `json:"location"`
	LabelText       string  `json:"labelText"`
	LabelColor      string  `json:"labelColor"`
	RolloverEnabled bool    `json:"rolloverEnabled"`
	Status          *string `json:"status"`
}

// UpdateTodoRequest is a partial update; nil pointers mean "leave unchanged".
// DueAt is raw JSON so an explicit null (clear the due date) can be told
// apart from an absent field. Order, when present, turns the request into a
// bulk reorder instead.
type UpdateTodoRequest struct {
	ID              int64           `json:"id"`
	Order           []int64         `json:"order"`
	Text            *string         `json:"text"`
	Status          *string         `json:"status"`
	Done            *bool           `json:"done"`
	DueAt           json.RawMessage `json:"dueAt"`
	Location        *string         `json:"location"`
	LabelText       *string         `json:"labelText"`
	LabelColor      *string         `json:"labelColor"`
	RolloverEnabled *bool           `json:"rolloverEnabled"`
}

type CreateLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type UpdateLabelRequest struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type CreateCommentRequest struct {
	TodoID int64  `json:"todoId"`
	Text   string `json:"text"`
}

type UpdateCommentRequest struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// ReminderSweepResult is the cron trigger response body.
type ReminderSweepResult struct {
	OK                        bool `json:"ok"`
	Scanned                   int  `json:"scanned"`
	Notified                  int  `json:"notified"`
	Skipped                   int  `json:"skipped"`
	StaleSubscriptionsRemoved int  `json:"staleSubscriptionsRemoved"`
}
