package session

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, s *Session) error
	// Get loads one session. Inside a lifecycle transaction touching money the
	// row is locked for the duration of the transaction.
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	// FindActiveByTable returns the open or awaiting_payment session for a
	// table, or ErrNotFound.
	FindActiveByTable(ctx context.Context, tableID string) (*Session, error)
	// ListIdleOpen returns open sessions not touched since the cutoff, for the
	// auto-close janitor.
	ListIdleOpen(ctx context.Context, cutoff time.Time) ([]*Session, error)
}
