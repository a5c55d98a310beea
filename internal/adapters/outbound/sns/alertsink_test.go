package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// mockSNSClient implements SNSPublisher for testing.
type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params)
	}
	return &sns.PublishOutput{MessageId: aws.String("test-message-id")}, nil
}

const testTopicARN = "arn:aws:sns:us-east-1:123456789:stl-trade-alerts"

func testAlert() outbound.Alert {
	return outbound.Alert{
		Kind:       outbound.AlertKindProvidersUnavailable,
		Severity:   outbound.AlertSeverityCritical,
		ChainID:    1,
		Message:    "every provider failed",
		OccurredAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewAlertSink_Validation(t *testing.T) {
	if _, err := NewAlertSink(nil, Config{TopicARN: testTopicARN}); err == nil || err.Error() != "sns client is required" {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewAlertSink(&mockSNSClient{}, Config{}); err == nil || err.Error() != "topic ARN is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewAlertSink_AppliesDefaults(t *testing.T) {
	sink, err := NewAlertSink(&mockSNSClient{}, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.config.MaxRetries != 3 || sink.config.InitialBackoff != 100*time.Millisecond || sink.config.MaxBackoff != 5*time.Second {
		t.Errorf("defaults not applied: %+v", sink.config)
	}
}

func TestAlert_Success(t *testing.T) {
	client := &mockSNSClient{}
	sink, err := NewAlertSink(client, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := sink.Alert(context.Background(), testAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.calls))
	}

	input := client.calls[0]
	if aws.ToString(input.TopicArn) != testTopicARN {
		t.Errorf("unexpected topic %q", aws.ToString(input.TopicArn))
	}
	if aws.ToString(input.Subject) != "[critical] all_providers_unavailable chain 1" {
		t.Errorf("unexpected subject %q", aws.ToString(input.Subject))
	}
	if aws.ToString(input.MessageAttributes["kind"].StringValue) != "all_providers_unavailable" {
		t.Errorf("missing kind attribute")
	}
	if aws.ToString(input.MessageAttributes["chainId"].StringValue) != "1" {
		t.Errorf("missing chainId attribute")
	}

	var decoded outbound.Alert
	if err := json.Unmarshal([]byte(aws.ToString(input.Message)), &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if decoded.Message != "every provider failed" || decoded.ChainID != 1 {
		t.Errorf("unexpected decoded alert %+v", decoded)
	}
}

func TestAlert_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error) {
			attempts++
			if attempts < 3 {
				return nil, &types.ThrottledException{Message: aws.String("slow down")}
			}
			return &sns.PublishOutput{}, nil
		},
	}
	sink, _ := NewAlertSink(client, Config{TopicARN: testTopicARN, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	if err := sink.Alert(context.Background(), testAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestAlert_DoesNotRetryPermanentErrors(t *testing.T) {
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error) {
			return nil, &types.NotFoundException{Message: aws.String("no such topic")}
		},
	}
	sink, _ := NewAlertSink(client, Config{TopicARN: testTopicARN, InitialBackoff: time.Millisecond})

	err := sink.Alert(context.Background(), testAlert())
	var notFound *types.NotFoundException
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundException, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("expected a single attempt, got %d", len(client.calls))
	}
}

func TestAlert_GivesUpAfterMaxRetries(t *testing.T) {
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error) {
			return nil, &types.InternalErrorException{Message: aws.String("boom")}
		},
	}
	sink, _ := NewAlertSink(client, Config{TopicARN: testTopicARN, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	if err := sink.Alert(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error")
	}
	if len(client.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(client.calls))
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"throttled", &types.ThrottledException{}, true},
		{"internal", &types.InternalErrorException{}, true},
		{"not found", &types.NotFoundException{}, false},
		{"authorization", &types.AuthorizationErrorException{}, false},
		{"invalid parameter", &types.InvalidParameterException{}, false},
		{"generic client fault", &smithy.GenericAPIError{Code: "KMSDisabled", Fault: smithy.FaultClient}, false},
		{"generic server fault", &smithy.GenericAPIError{Code: "ServiceUnavailable", Fault: smithy.FaultServer}, true},
		{"unknown", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
