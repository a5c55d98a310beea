package outbound

import (
	"context"
	"time"
)

// AlertSeverity ranks an alert.
type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertKind identifies what an alert is about.
type AlertKind string

const (
	AlertKindProvidersUnavailable AlertKind = "all_providers_unavailable"
	AlertKindOrderFailed          AlertKind = "order_failed"
)

// Alert is a system-health notification.
type Alert struct {
	Kind       AlertKind     `json:"kind"`
	Severity   AlertSeverity `json:"severity"`
	ChainID    int64         `json:"chainId,omitempty"`
	OrderID    string        `json:"orderId,omitempty"`
	Message    string        `json:"message"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// AlertSink delivers alerts to operators.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}
