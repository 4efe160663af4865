// Package queue implements a durable, at-least-once work queue on top of Redis.
//
// A message is identified by its idempotency key (or a random id), so enqueueing the
// same logical unit of work twice while it is still live yields a single delivery.
// Failed deliveries are retried with exponential backoff until MaxAttempts is reached,
// after which the message is parked on the queue's dead list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMessageNotFound indicates a delivered id no longer has a stored message body.
var ErrMessageNotFound = errors.New("queue message not found")

// Options tune delivery of a single message.
type Options struct {
	IdempotencyKey string
	MaxAttempts    int
	Backoff        time.Duration
}

// Message is a unit of work as seen by a consumer.
type Message struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMs   int64           `json:"backoff_ms"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler processes one delivery. Returning an error schedules a retry.
type Handler func(ctx context.Context, msg Message) error

// Enqueuer publishes work onto a named queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload interface{}, opts Options) (string, bool, error)
}

// RetryDelay returns the backoff before the given retry (1-based).
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > time.Hour {
			return time.Hour
		}
	}
	return delay
}
