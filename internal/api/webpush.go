package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"todogram/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ReminderTypeDue30m keys the idempotency ledger for the 30-minutes-before
// sweep. Adding another cadence means adding another type.
const ReminderTypeDue30m = "due_30m"

const taskNameMaxRunes = 48

type PushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

func PushConfigFromEnv() PushConfig {
	subject := strings.TrimSpace(os.Getenv("WEB_PUSH_SUBJECT"))
	if subject == "" {
		subject = "mailto:admin@example.com"
	}
	return PushConfig{
		PublicKey:  strings.TrimSpace(os.Getenv("WEB_PUSH_PUBLIC_KEY")),
		PrivateKey: strings.TrimSpace(os.Getenv("WEB_PUSH_PRIVATE_KEY")),
		Subject:    subject,
	}
}

func (cfg PushConfig) Configured() bool {
	return cfg.PublicKey != "" && cfg.PrivateKey != ""
}

func (cfg PushConfig) vapidOptions() *webpush.Options {
	return &webpush.Options{
		Subscriber:      cfg.Subject,
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		TTL:             30,
	}
}

// PushPayload is the JSON contract consumed by the service worker.
type PushPayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tag   string   `json:"tag"`
	Data  PushData `json:"data"`
}

type PushData struct {
	URL    string    `json:"url"`
	TodoID int64     `json:"todoId"`
	DueAt  time.Time `json:"dueAt"`
}

// ReminderTodo is the slice of a todo the dispatcher needs.
type ReminderTodo struct {
	ID     int64
	UserID int64
	Text   string
	DueAt  time.Time
}

// truncateText ellipsizes beyond a fixed rune count so long task names keep
// notification bodies readable.
func truncateText(value string, max int) string {
	text := strings.TrimSpace(value)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}

// buildReminderMessage localizes the notification by language-tag prefix.
// Unrecognized locales fall back to English.
func buildReminderMessage(taskName, locale string) (title, body string) {
	lang := strings.ToLower(strings.TrimSpace(locale))

	switch {
	case strings.HasPrefix(lang, "ko"):
		return "Todogram 일정 알림", fmt.Sprintf("%s 일정이 30분 후 시작됩니다.", taskName)
	case strings.HasPrefix(lang, "zh"):
		return "Todogram 提醒", fmt.Sprintf("%s 将在 30 分钟后开始。", taskName)
	default:
		// ja and everything else share the English template.
		return "Todogram Reminder", fmt.Sprintf("%s starts in 30 minutes.", taskName)
	}
}

type sendFunc func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Dispatcher delivers one todo's reminder to every registered device of its
// owner. The send function is swappable for tests.
type Dispatcher struct {
	options *webpush.Options
	send    sendFunc
}

func NewDispatcher(cfg PushConfig) *Dispatcher {
	return &Dispatcher{
		options: cfg.vapidOptions(),
		send:    webpush.SendNotification,
	}
}

type DeliveryResult struct {
	Sent           int
	StaleEndpoints []string
}

// Deliver pushes to all subscriptions concurrently. Endpoints the transport
// reports gone (404/410) are collected for pruning; any other failure is
// logged and isolated so it cannot block the rest of the batch. Success is
// counted per endpoint, not per todo.
func (d *Dispatcher) Deliver(todo ReminderTodo, subscriptions []models.PushSubscription) DeliveryResult {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result DeliveryResult
	)

	taskName := truncateText(todo.Text, taskNameMaxRunes)
	tag := fmt.Sprintf("todo-%d-%s", todo.ID, ReminderTypeDue30m)

	for _, subscription := range subscriptions {
		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()

			title, body := buildReminderMessage(taskName, sub.Locale)
			payload, err := json.Marshal(PushPayload{
				Title: title,
				Body:  body,
				Tag:   tag,
				Data:  PushData{URL: "/", TodoID: todo.ID, DueAt: todo.DueAt},
			})
			if err != nil {
				logger.Errorw("marshal push payload", "todoId", todo.ID, "err", err)
				return
			}

			resp, err := d.send(payload, &webpush.Subscription{
				Endpoint: sub.Endpoint,
				Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
			}, d.options)
			if resp != nil {
				defer resp.Body.Close()
			}

			if err != nil {
				logger.Errorw("push send failed", "todoId", todo.ID, "endpoint", sub.Endpoint, "err", err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone):
				result.StaleEndpoints = append(result.StaleEndpoints, sub.Endpoint)
			case resp != nil && resp.StatusCode >= 400:
				logger.Errorw("push service rejected", "todoId", todo.ID, "endpoint", sub.Endpoint, "status", resp.StatusCode)
			default:
				result.Sent++
			}
		}(subscription)
	}

	wg.Wait()
	return result
}
