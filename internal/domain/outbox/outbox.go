// Package outbox defines the durable record of side effects to dispatch after
// commit. Envelopes are enqueued inside the lifecycle transaction and drained
// by a worker, so a rendering or SMTP failure can never corrupt order state.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is any domain event with a name identifier.
type Event interface {
	EventName() string
}

// Envelope is the persisted form of one event. IDs increase monotonically so
// delivery per order follows enqueue order.
type Envelope struct {
	ID             int64
	Kind           string
	OrderID        string
	SessionID      string
	Payload        json.RawMessage
	IdempotencyKey string
	CreatedAt      time.Time
	Attempts       int
	NextAttemptAt  time.Time
	DeliveredAt    *time.Time
	DeadAt         *time.Time
}

// Wrap marshals a domain event into an envelope ready for enqueueing.
func Wrap(e Event, orderID, sessionID, idempotencyKey string, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("outbox: marshal %s: %w", e.EventName(), err)
	}
	return Envelope{
		Kind:           e.EventName(),
		OrderID:        orderID,
		SessionID:      sessionID,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		NextAttemptAt:  now,
	}, nil
}

// Store persists envelopes. Enqueue is a no-op when an envelope with the same
// non-empty idempotency key already exists; that is what keeps retried
// lifecycle calls from producing duplicate emails.
type Store interface {
	Enqueue(ctx context.Context, env Envelope) error
	// Pending returns undelivered, non-dead envelopes due at or before now,
	// oldest first.
	Pending(ctx context.Context, now time.Time, limit int) ([]Envelope, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttempt time.Time) error
	MarkDead(ctx context.Context, id int64, at time.Time) error
	ListDead(ctx context.Context, limit int) ([]Envelope, error)
}

// ErrTransient marks a dispatch failure worth retrying. Anything else parks
// the envelope in the dead-letter state once retries are exhausted.
var ErrTransient = errors.New("outbox: transient failure")

// Transient wraps err so the worker schedules a retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
