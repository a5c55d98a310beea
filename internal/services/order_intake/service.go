// Package order_intake places orders submitted through a message queue.
//
// Each message carries one order. Delivery is at-least-once, so the order id is
// derived from the broker message id and a redelivered message maps onto the
// order it already created.
package order_intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/inbound"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// orderNamespace scopes order ids derived from message ids.
var orderNamespace = uuid.MustParse("5f0c7a4e-2b8d-4f61-9a3e-7c1d2e4b6a90")

// Message is the JSON body of an intake message.
type Message struct {
	Owner string `json:"owner"`
	inbound.PlaceOrderRequest
}

// Config holds configuration for the intake service.
type Config struct {
	// Workers is the number of concurrent message handlers.
	Workers int

	// BatchSize is how many messages to fetch at once (max 10).
	BatchSize int

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns sensible defaults for the intake service.
func ConfigDefaults() Config {
	return Config{
		Workers:      4,
		BatchSize:    10,
		ErrorBackoff: 5 * time.Second,
		Logger:       slog.Default(),
	}
}

// Service moves orders from a message queue into the order service.
type Service struct {
	config    Config
	queue     outbound.MessageQueue
	orders    inbound.OrderService
	logger    *slog.Logger
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewService creates a new intake service.
func NewService(config Config, queue outbound.MessageQueue, orders inbound.OrderService) (*Service, error) {
	if queue == nil {
		return nil, errors.New("message queue is required")
	}
	if orders == nil {
		return nil, errors.New("order service is required")
	}

	defaults := ConfigDefaults()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config: config,
		queue:  queue,
		orders: orders,
		logger: config.Logger.With("component", "order-intake"),
		stopCh: make(chan struct{}),
	}, nil
}

// Run consumes messages until ctx is cancelled or Stop is called.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting order intake", "workers", s.config.Workers)

	msgCh := make(chan outbound.QueuedMessage, s.config.Workers*2)
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i, msgCh)
	}
	shutdown := func() {
		close(msgCh)
		s.wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return ctx.Err()
		case <-s.stopCh:
			shutdown()
			return nil
		default:
		}

		messages, err := s.queue.Receive(ctx, s.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				shutdown()
				return ctx.Err()
			}
			s.logger.Error("failed to receive messages", "error", err)
			select {
			case <-time.After(s.config.ErrorBackoff):
			case <-ctx.Done():
			case <-s.stopCh:
			}
			continue
		}

		for _, msg := range messages {
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				shutdown()
				return ctx.Err()
			}
		}
	}
}

// Stop signals Run to return after in-flight messages are handled.
func (s *Service) Stop() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Service) worker(ctx context.Context, id int, msgCh <-chan outbound.QueuedMessage) {
	defer s.wg.Done()
	logger := s.logger.With("worker", id)

	for msg := range msgCh {
		if err := s.handle(ctx, msg); err != nil {
			// Left on the queue; it becomes visible again after the visibility timeout.
			logger.Error("failed to place order from message",
				"messageID", msg.ID,
				"receiveCount", msg.ReceiveCount,
				"error", err,
			)
			continue
		}
		if err := s.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
			logger.Error("failed to delete message", "messageID", msg.ID, "error", err)
		}
	}
}

// handle returns nil when the message should be deleted: the order was placed,
// already existed, or can never be placed.
func (s *Service) handle(ctx context.Context, msg outbound.QueuedMessage) error {
	m, err := decode(msg.Body)
	if err != nil {
		s.logger.Warn("dropping malformed message", "messageID", msg.ID, "error", err)
		return nil
	}
	m.OrderID = OrderID(msg.ID)

	order, err := s.orders.PlaceOrder(ctx, m.Owner, m.PlaceOrderRequest)
	switch {
	case err == nil:
		s.logger.Info("order placed from queue", "messageID", msg.ID, "orderID", order.ID)
		return nil
	case errors.Is(err, entity.ErrOrderExists):
		s.logger.Info("order already placed", "messageID", msg.ID, "orderID", m.OrderID)
		return nil
	case errors.Is(err, entity.ErrInvalidOrderParameters):
		s.logger.Warn("dropping invalid order", "messageID", msg.ID, "error", err)
		return nil
	default:
		return err
	}
}

// OrderID derives the order id for a message id.
func OrderID(messageID string) string {
	return uuid.NewSHA1(orderNamespace, []byte(messageID)).String()
}

// decode parses a message body, unwrapping an SNS notification envelope if present.
func decode(body string) (Message, error) {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		body = envelope.Message
	}

	var m Message
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("decoding order message: %w", err)
	}
	if strings.TrimSpace(m.Owner) == "" {
		return Message{}, errors.New("owner is required")
	}
	return m, nil
}
