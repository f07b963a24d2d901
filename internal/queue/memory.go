package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrReceiptNotFound is returned by MemoryQueue.Delete for a handle that is not in flight.
var ErrReceiptNotFound = errors.New("receipt handle not in flight")

const defaultVisibilityTimeout = 30 * time.Second

type memoryMessage struct {
	id        string
	body      *string
	receipt   string
	invisible time.Time
}

// MemoryQueue is an in-process queue with SQS-like visibility semantics: a received
// message stays hidden for the visibility timeout and is redelivered unless deleted.
// Receive never blocks; an empty queue returns an empty batch.
type MemoryQueue struct {
	mu         sync.Mutex
	messages   []*memoryMessage
	visibility time.Duration
	now        func() time.Time
}

var _ Consumer = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue. A non-positive visibility uses 30s.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}

	return &MemoryQueue{
		visibility: visibility,
		now:        time.Now,
	}
}

// Send enqueues body and returns the message id.
func (q *MemoryQueue) Send(body *string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.messages = append(q.messages, &memoryMessage{id: id, body: body})
	return id
}

// SendString enqueues a copy of body.
func (q *MemoryQueue) SendString(body string) string {
	return q.Send(&body)
}

func (q *MemoryQueue) Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		return nil, fmt.Errorf("max messages must be positive, got %d", maxMessages)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var batch []Message
	for _, m := range q.messages {
		if len(batch) == int(maxMessages) {
			break
		}
		if now.Before(m.invisible) {
			continue
		}

		m.receipt = uuid.NewString()
		m.invisible = now.Add(q.visibility)

		batch = append(batch, Message{ID: m.id, Body: m.body, ReceiptHandle: m.receipt})
	}

	return batch, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.receipt != "" && m.receipt == receiptHandle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}

	return ErrReceiptNotFound
}

func (q *MemoryQueue) HealthCheck(ctx context.Context) error {
	return nil
}

// ApproximateDepth returns the number of messages currently visible.
func (q *MemoryQueue) ApproximateDepth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var visible int64
	for _, m := range q.messages {
		if !now.Before(m.invisible) {
			visible++
		}
	}

	return visible, nil
}

// Len returns the number of undeleted messages, visible or in flight.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
