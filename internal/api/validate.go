package api

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	usernameMinLen  = 2
	usernameMaxLen  = 24
	passwordMinLen  = 8
	locationMaxLen  = 160
	labelTextMaxLen = 32
	localeMaxLen    = 24
	timezoneMaxLen  = 80
	userAgentMaxLen = 260
	avatarMaxBytes  = 2_000_000
	avatarURLMaxLen = 2000
)

var (
	labelColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	dataImagePattern  = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)
)

func normalizeUsername(value string) string {
	return strings.TrimSpace(value)
}

func validUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= usernameMinLen && n <= usernameMaxLen
}

// parseLabelColor accepts #rrggbb and canonicalizes to lowercase.
func parseLabelColor(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if !labelColorPattern.MatchString(trimmed) {
		return "", false
	}
	return strings.ToLower(trimmed), true
}

func parseTodoStatus(value string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "waiting", "active", "done":
		return normalized, true
	}
	return "", false
}

func statusToDone(status string) bool {
	return status == "done"
}

// parseDueAt accepts RFC 3339 timestamps.
func parseDueAt(value string) (time.Time, bool) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

var (
	errAvatarTooLarge = errors.New("avatar image is too large")
	errAvatarInvalid  = errors.New("avatarUrl must be a valid image url")
)

// parseAvatarURL validates a profile image reference: empty clears it, and
// either an inline base64 data URL or an http(s) URL is accepted.
func parseAvatarURL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > avatarMaxBytes {
		return "", errAvatarTooLarge
	}
	if dataImagePattern.MatchString(trimmed) {
		return trimmed, nil
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if len(trimmed) > avatarURLMaxLen {
			return trimmed[:avatarURLMaxLen], nil
		}
		return trimmed, nil
	}
	return "", errAvatarInvalid
}

func clampString(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > max {
		return trimmed[:max]
	}
	return trimmed
}
