// Package sns delivers operator alerts to an AWS SNS topic.
//
// Alerts are published as JSON with message attributes for subscription
// filtering:
//   - kind: the alert kind, e.g. "all_providers_unavailable"
//   - severity: "warning" or "critical"
//   - chainId: the affected chain, when known
//
// Transient publish failures are retried with exponential backoff.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/stl-trade/internal/pkg/retry"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that AlertSink implements outbound.AlertSink
var _ outbound.AlertSink = (*AlertSink)(nil)

// SNSPublisher defines the subset of SNS client methods used by AlertSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS alert sink.
type Config struct {
	// TopicARN is the topic alerts are published to.
	TopicARN string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// Logger is the structured logger for the sink.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Logger:         slog.Default(),
	}
}

// AlertSink publishes alerts to SNS.
type AlertSink struct {
	client SNSPublisher
	config Config
	logger *slog.Logger
}

// NewAlertSink creates an SNS alert sink.
func NewAlertSink(client SNSPublisher, config Config) (*AlertSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &AlertSink{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-alertsink"),
	}, nil
}

// Alert publishes alert to the configured topic.
func (s *AlertSink) Alert(ctx context.Context, alert outbound.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshalling alert: %w", err)
	}

	attributes := map[string]types.MessageAttributeValue{
		"kind": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(alert.Kind)),
		},
		"severity": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(alert.Severity)),
		},
	}
	if alert.ChainID != 0 {
		attributes["chainId"] = types.MessageAttributeValue{
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(alert.ChainID, 10)),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(s.config.TopicARN),
		Subject:           aws.String(subject(alert)),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes,
	}

	retryCfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", s.config.MaxRetries,
			"backoff", backoff,
			"kind", alert.Kind,
			"error", err)
	}

	err = retry.DoVoid(ctx, retryCfg, isRetryableError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("publishing alert to SNS: %w", err)
	}
	return nil
}

// subject builds an e-mail friendly subject. SNS caps subjects at 100 characters.
func subject(alert outbound.Alert) string {
	s := fmt.Sprintf("[%s] %s", alert.Severity, alert.Kind)
	if alert.ChainID != 0 {
		s += fmt.Sprintf(" chain %d", alert.ChainID)
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// isRetryableError reports whether a publish error is worth retrying.
// Unknown errors are treated as transient network failures.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttled", "Throttling", "ThrottlingException":
			return true
		}
		return apiErr.ErrorFault() != smithy.FaultClient
	}
	return true
}
