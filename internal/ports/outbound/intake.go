package outbound

import "context"

// QueuedMessage is an order submission read from a message queue.
type QueuedMessage struct {
	// ID is the broker-assigned message id. Redeliveries keep the same id.
	ID string

	// ReceiptHandle acknowledges this particular delivery.
	ReceiptHandle string

	// Body is the raw JSON payload.
	Body string

	// ReceiveCount is how many times the broker delivered the message, when known.
	ReceiveCount int
}

// MessageQueue is the intake queue orders can be submitted through.
type MessageQueue interface {
	// Receive long-polls for up to maxMessages. An empty slice means none arrived.
	Receive(ctx context.Context, maxMessages int) ([]QueuedMessage, error)

	// Ack removes a handled message so it is not redelivered.
	Ack(ctx context.Context, receiptHandle string) error
}
