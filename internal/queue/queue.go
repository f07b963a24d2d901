// Package queue holds the at-least-once queue adapters consumed by the poll loop.
package queue

import "context"

// Message is one delivery of a queue message. Body is nil when the transport
// delivered a message without a body.
type Message struct {
	ID            string
	Body          *string
	ReceiptHandle string
}

// Consumer receives and acknowledges messages. Transport failures are returned as
// QUEUE_UNAVAILABLE application errors.
type Consumer interface {
	// Receive long-polls for up to maxMessages, waiting at most waitSeconds.
	Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]Message, error)
	// Delete acknowledges a received message so it is not redelivered.
	Delete(ctx context.Context, receiptHandle string) error
	HealthCheck(ctx context.Context) error
}
