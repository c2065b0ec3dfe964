package lifecycle

import (
	"context"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/outbox"
	"github.com/prontopos/pronto-core/internal/domain/session"
)

// Store is the persistence port. Every lifecycle operation runs inside one
// WithinTx call: aggregate reads take row locks, and history plus outbox rows
// commit atomically with the mutation.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Outbox exposes the envelope store outside a lifecycle transaction, for
	// the dispatch worker.
	Outbox() outbox.Store
}

// Tx is the set of repositories bound to one transaction.
type Tx interface {
	Orders() order.Repository
	Sessions() session.Repository
	History() HistoryRepo
	Outbox() outbox.Store
	// Menu reads the snapshot used to validate this transaction's order
	// lines.
	Menu() menu.Repository
	// NextOrderSeq yields the next number in the daily order sequence.
	NextOrderSeq(ctx context.Context) (int, error)
}

// HistoryRepo appends to the append-only status log.
type HistoryRepo interface {
	Append(ctx context.Context, change order.StatusChange) error
	ListByOrder(ctx context.Context, orderID string) ([]order.StatusChange, error)
}

type IDGenerator interface {
	NewID() string
}

// ReceiptData is the snapshot handed to the renderer. The renderer is pure
// over it; no repository reads happen during rendering.
type ReceiptData struct {
	Session     *session.Session
	Orders      []*order.Order
	Currency    string
	GeneratedAt time.Time
}

// Receipt is a rendered ticket. PDF bytes are optional.
type Receipt struct {
	HTML []byte
	PDF  []byte
}

type ReceiptRenderer interface {
	Render(data ReceiptData) (Receipt, error)
}

// EmailSender delivers a rendered receipt. Implementations wrap retriable
// failures with outbox.Transient so the worker backs off and retries.
type EmailSender interface {
	Send(ctx context.Context, to, subject string, html []byte, attachments []Attachment) error
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
