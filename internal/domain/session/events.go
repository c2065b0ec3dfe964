package session

import "time"

// ReceiptRequestedEvent asks the outbox worker to render and deliver a
// receipt. The idempotency key deduplicates re-sends within the same day.
type ReceiptRequestedEvent struct {
	SessionID      string    `json:"session_id"`
	Channel        string    `json:"channel"`
	Target         string    `json:"target"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (ReceiptRequestedEvent) EventName() string { return "receipt_requested" }
