package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that AlertSink implements outbound.AlertSink
var _ outbound.AlertSink = (*AlertSink)(nil)

// AlertSink logs alerts and keeps them for inspection. It stands in for SNS
// when no topic is configured.
type AlertSink struct {
	logger *slog.Logger

	mu     sync.Mutex
	alerts []outbound.Alert
}

// NewAlertSink creates a log-backed alert sink.
func NewAlertSink(logger *slog.Logger) *AlertSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertSink{logger: logger.With("component", "alert-sink")}
}

func (s *AlertSink) Alert(ctx context.Context, alert outbound.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()

	level := slog.LevelWarn
	if alert.Severity == outbound.AlertSeverityCritical {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, alert.Message,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"chainID", alert.ChainID,
		"orderID", alert.OrderID)
	return nil
}

// Alerts returns a copy of every alert received so far.
func (s *AlertSink) Alerts() []outbound.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbound.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}
