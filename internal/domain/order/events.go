package order

import "time"

// Domain events mirror the outbox kinds. Payloads are denormalized enough for
// downstream consumers (kitchen displays, dashboards) to render without a
// database read.

type CreatedEvent struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"order_number"`
	SessionID  string    `json:"session_id"`
	CustomerID string    `json:"customer_id"`
	Total      string    `json:"total"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (CreatedEvent) EventName() string { return "order_created" }

type AcceptedEvent struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"order_number"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (AcceptedEvent) EventName() string { return "order_accepted" }

type StartedEvent struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"order_number"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (StartedEvent) EventName() string { return "order_started" }

type ReadyEvent struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"order_number"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (ReadyEvent) EventName() string { return "order_ready" }

type DeliveredEvent struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"order_number"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (DeliveredEvent) EventName() string { return "order_delivered" }

type PaidEvent struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"order_number"`
	SessionID  string    `json:"session_id"`
	Method     string    `json:"payment_method"`
	Total      string    `json:"total"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (PaidEvent) EventName() string { return "order_paid" }
