package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"todogram/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

func testDispatcher(send sendFunc) *Dispatcher {
	d := NewDispatcher(PushConfig{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:ops@example.com"})
	d.send = send
	return d
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 48))
	assert.Equal(t, "trimmed", truncateText("  trimmed  ", 48))

	long := strings.Repeat("a", 60)
	got := truncateText(long, 48)
	assert.Equal(t, 48, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	// Rune-safe: multibyte text must not be cut mid-character.
	korean := strings.Repeat("감", 60)
	got = truncateText(korean, 48)
	assert.Equal(t, 48, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestBuildReminderMessage(t *testing.T) {
	cases := []struct {
		locale string
		title  string
		body   string
	}{
		{"ko-KR", "Todogram 일정 알림", "장보기 일정이 30분 후 시작됩니다."},
		{"ko", "Todogram 일정 알림", "장보기 일정이 30분 후 시작됩니다."},
		{"zh-CN", "Todogram 提醒", "장보기 将在 30 分钟后开始。"},
		{"ja-JP", "Todogram Reminder", "장보기 starts in 30 minutes."},
		{"en-US", "Todogram Reminder", "장보기 starts in 30 minutes."},
		{"", "Todogram Reminder", "장보기 starts in 30 minutes."},
		{"fr-FR", "Todogram Reminder", "장보기 starts in 30 minutes."},
	}

	for _, tc := range cases {
		t.Run("locale "+tc.locale, func(t *testing.T) {
			title, body := buildReminderMessage("장보기", tc.locale)
			assert.Equal(t, tc.title, title)
			assert.Equal(t, tc.body, body)
		})
	}
}

func TestDeliverCountsPerEndpoint(t *testing.T) {
	todo := ReminderTodo{ID: 7, UserID: 1, Text: "water the plants", DueAt: time.Now().Add(30 * time.Minute)}
	subs := []models.PushSubscription{
		{Endpoint: "https://push.example/one", P256dh: "k1", Auth: "a1", Locale: "en-US"},
		{Endpoint: "https://push.example/two", P256dh: "k2", Auth: "a2", Locale: "ko-KR"},
		{Endpoint: "https://push.example/three", P256dh: "k3", Auth: "a3", Locale: "en-US"},
	}

	// Decode errors are collected and asserted after Deliver returns; the
	// stub runs on worker goroutines where failing the test is not allowed.
	var mu sync.Mutex
	seen := map[string]PushPayload{}
	var decodeErrs []error
	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		var payload PushPayload
		err := json.Unmarshal(message, &payload)
		mu.Lock()
		if err != nil {
			decodeErrs = append(decodeErrs, err)
		} else {
			seen[s.Endpoint] = payload
		}
		mu.Unlock()
		return pushResponse(http.StatusCreated), nil
	})

	result := d.Deliver(todo, subs)
	require.Empty(t, decodeErrs)

	assert.Equal(t, 3, result.Sent, "success is counted per endpoint")
	assert.Empty(t, result.StaleEndpoints)
	require.Len(t, seen, 3)

	assert.Equal(t, "todo-7-due_30m", seen["https://push.example/one"].Tag)
	assert.Equal(t, int64(7), seen["https://push.example/one"].Data.TodoID)
	assert.Equal(t, "/", seen["https://push.example/one"].Data.URL)

	// Payload text follows each subscription's locale.
	assert.Equal(t, "Todogram Reminder", seen["https://push.example/one"].Title)
	assert.Equal(t, "Todogram 일정 알림", seen["https://push.example/two"].Title)
}

func TestDeliverCollectsGoneEndpoints(t *testing.T) {
	todo := ReminderTodo{ID: 3, UserID: 1, Text: "dentist", DueAt: time.Now()}
	subs := []models.PushSubscription{
		{Endpoint: "https://push.example/alive", P256dh: "k", Auth: "a"},
		{Endpoint: "https://push.example/gone", P256dh: "k", Auth: "a"},
		{Endpoint: "https://push.example/missing", P256dh: "k", Auth: "a"},
	}

	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		switch s.Endpoint {
		case "https://push.example/gone":
			return pushResponse(http.StatusGone), nil
		case "https://push.example/missing":
			return pushResponse(http.StatusNotFound), nil
		}
		return pushResponse(http.StatusCreated), nil
	})

	result := d.Deliver(todo, subs)

	assert.Equal(t, 1, result.Sent)
	assert.ElementsMatch(t,
		[]string{"https://push.example/gone", "https://push.example/missing"},
		result.StaleEndpoints)
}

func TestDeliverIsolatesFailures(t *testing.T) {
	todo := ReminderTodo{ID: 9, UserID: 2, Text: "standup", DueAt: time.Now()}
	subs := []models.PushSubscription{
		{Endpoint: "https://push.example/bad", P256dh: "k", Auth: "a"},
		{Endpoint: "https://push.example/rejected", P256dh: "k", Auth: "a"},
		{Endpoint: "https://push.example/ok", P256dh: "k", Auth: "a"},
	}

	d := testDispatcher(func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		switch s.Endpoint {
		case "https://push.example/bad":
			return nil, io.ErrUnexpectedEOF
		case "https://push.example/rejected":
			return pushResponse(http.StatusTooManyRequests), nil
		}
		return pushResponse(http.StatusCreated), nil
	})

	result := d.Deliver(todo, subs)

	// Transport errors and non-gone rejections are silent failures: they
	// neither count as sent nor mark the endpoint stale.
	assert.Equal(t, 1, result.Sent)
	assert.Empty(t, result.StaleEndpoints)
}
