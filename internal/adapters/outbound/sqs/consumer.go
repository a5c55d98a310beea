// Package sqs reads order submissions from an AWS SQS queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// API is the subset of SQS operations the Consumer needs.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Compile-time check that Consumer implements outbound.MessageQueue
var _ outbound.MessageQueue = (*Consumer)(nil)

// Config holds SQS consumer configuration.
type Config struct {
	// QueueURL is the URL of the order queue.
	QueueURL string

	// WaitTimeSeconds is the long polling wait. Max is 20 seconds.
	WaitTimeSeconds int32

	// VisibilityTimeout hides a received message from other consumers for this
	// many seconds. Zero uses the queue's setting.
	VisibilityTimeout int32
}

// ConfigDefaults returns default SQS consumer configuration.
func ConfigDefaults() Config {
	return Config{
		WaitTimeSeconds: 20,
	}
}

// Consumer is an SQS implementation of outbound.MessageQueue.
type Consumer struct {
	client API
	config Config
	logger *slog.Logger
}

// NewConsumer creates a consumer using an SQS client built from cfg.
func NewConsumer(cfg aws.Config, sqsConfig Config, logger *slog.Logger, optFns ...func(*sqs.Options)) (*Consumer, error) {
	return NewConsumerWithClient(sqs.NewFromConfig(cfg, optFns...), sqsConfig, logger)
}

// NewConsumerWithClient creates a consumer around an existing client.
func NewConsumerWithClient(client API, sqsConfig Config, logger *slog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if sqsConfig.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if sqsConfig.WaitTimeSeconds == 0 {
		sqsConfig.WaitTimeSeconds = ConfigDefaults().WaitTimeSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		client: client,
		config: sqsConfig,
		logger: logger.With("component", "sqs-consumer"),
	}, nil
}

// Receive long-polls for up to maxMessages (clamped to 1..10).
func (c *Consumer) Receive(ctx context.Context, maxMessages int) ([]outbound.QueuedMessage, error) {
	maxMessages = min(max(maxMessages, 1), 10)

	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}

	messages := make([]outbound.QueuedMessage, 0, len(result.Messages))
	for _, msg := range result.Messages {
		if msg.MessageId == nil || msg.ReceiptHandle == nil || msg.Body == nil {
			continue
		}
		m := outbound.QueuedMessage{
			ID:            *msg.MessageId,
			ReceiptHandle: *msg.ReceiptHandle,
			Body:          *msg.Body,
		}
		if raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				m.ReceiveCount = n
			}
		}
		messages = append(messages, m)
	}

	if len(messages) > 0 {
		c.logger.Debug("received messages", "count", len(messages))
	}
	return messages, nil
}

// Ack deletes a handled message.
func (c *Consumer) Ack(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}
