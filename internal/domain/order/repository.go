package order

import "context"

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	// Get loads one order. Inside a lifecycle transaction the row is locked
	// for the duration of the transaction on backends that support it.
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListBySession(ctx context.Context, sessionID string) ([]*Order, error)
}
