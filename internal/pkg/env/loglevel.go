package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL in slog's text form ("debug", "INFO", "warn+2")
// and returns fallback when it is empty or unparseable. "warning" is accepted as
// an alias for "warn".
func ParseLogLevel(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(Get("LOG_LEVEL", ""))
	if raw == "" {
		return fallback
	}
	if strings.EqualFold(raw, "warning") {
		raw = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
