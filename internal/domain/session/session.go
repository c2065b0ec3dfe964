// Package session models the dining session: the tab tied to a table from
// open until paid or closed. The session is the lock boundary for payment.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("session: not found")
	ErrClosed        = errors.New("session: closed")
	ErrNotCheckedOut = errors.New("session: checkout not prepared")
	ErrAlreadyPaid   = errors.New("session: already paid")
)

type Status string

const (
	StatusOpen            Status = "open"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusClosed          Status = "closed"
	StatusCancelled       Status = "cancelled"
)

// Session aggregates orders for one table. It holds order ids, never order
// pointers; hydration goes through the repository.
type Session struct {
	ID         string
	TableID    string
	CustomerID string
	Status     Status
	GuestCount int

	// ReceiptEmail is the contact captured at payment time for receipt
	// delivery. Empty when the customer declined one.
	ReceiptEmail string

	OrderIDs []string

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal

	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
	ClosedBy  string
}

func New(id, tableID, customerID string, guestCount int, now time.Time) *Session {
	return &Session{
		ID:         id,
		TableID:    tableID,
		CustomerID: customerID,
		Status:     StatusOpen,
		GuestCount: guestCount,
		Subtotal:   decimal.Zero,
		Tax:        decimal.Zero,
		Tip:        decimal.Zero,
		Total:      decimal.Zero,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
}

// Active reports whether the session still accepts orders or payment.
func (s *Session) Active() bool {
	return s.Status == StatusOpen || s.Status == StatusAwaitingPayment
}

// AttachOrder registers an order id on the session.
func (s *Session) AttachOrder(orderID string, now time.Time) error {
	if !s.Active() {
		return fmt.Errorf("%w: attach order while %s", ErrClosed, s.Status)
	}
	for _, id := range s.OrderIDs {
		if id == orderID {
			return nil
		}
	}
	s.OrderIDs = append(s.OrderIDs, orderID)
	s.touch(now)
	return nil
}

// DetachOrder removes an order id; the session itself survives.
func (s *Session) DetachOrder(orderID string, now time.Time) {
	for i, id := range s.OrderIDs {
		if id == orderID {
			s.OrderIDs = append(s.OrderIDs[:i], s.OrderIDs[i+1:]...)
			s.touch(now)
			return
		}
	}
}

// RecomputeTotals sums the cached totals of the non-cancelled orders.
func (s *Session) RecomputeTotals(orders []*order.Order, now time.Time) {
	subtotal, tax, tip, total := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, o := range orders {
		if o.Workflow == order.WorkflowCancelled {
			continue
		}
		subtotal = subtotal.Add(o.Subtotal)
		tax = tax.Add(o.Tax)
		tip = tip.Add(o.Tip)
		total = total.Add(o.Total)
	}
	s.Subtotal, s.Tax, s.Tip, s.Total = subtotal, tax, tip, total
	s.touch(now)
}

// PrepareCheckout moves the session to awaiting_payment. Idempotent: repeat
// calls report no change.
func (s *Session) PrepareCheckout(now time.Time) (changed bool, err error) {
	switch s.Status {
	case StatusOpen:
		s.Status = StatusAwaitingPayment
		s.touch(now)
		return true, nil
	case StatusAwaitingPayment:
		return false, nil
	case StatusPaid:
		return false, ErrAlreadyPaid
	default:
		return false, fmt.Errorf("%w: checkout while %s", ErrClosed, s.Status)
	}
}

// MarkPaidIfComplete transitions awaiting_payment -> paid once every
// non-cancelled order has settled. Orders must reach delivered before or
// concurrent with payment, so an undelivered order also blocks the session.
func (s *Session) MarkPaidIfComplete(orders []*order.Order, now time.Time) bool {
	if s.Status != StatusAwaitingPayment {
		return false
	}
	settled := 0
	for _, o := range orders {
		if o.Workflow == order.WorkflowCancelled {
			continue
		}
		if o.Workflow != order.WorkflowDelivered {
			return false
		}
		if o.Payment != order.PaymentPaid && o.Payment != order.PaymentRefunded {
			return false
		}
		settled++
	}
	if settled == 0 {
		return false
	}
	s.Status = StatusPaid
	s.touch(now)
	return true
}

// Close finishes the session. Allowed from paid, or from open when the session
// holds no orders.
func (s *Session) Close(actor staff.Actor, now time.Time) error {
	switch s.Status {
	case StatusPaid:
	case StatusOpen:
		if len(s.OrderIDs) > 0 {
			return fmt.Errorf("%w: open session with %d order(s) cannot close", ErrClosed, len(s.OrderIDs))
		}
	default:
		return fmt.Errorf("%w: close while %s", ErrClosed, s.Status)
	}
	s.Status = StatusClosed
	at := now
	s.ClosedAt = &at
	s.ClosedBy = actor.ID
	s.touch(now)
	return nil
}

func (s *Session) touch(now time.Time) { s.UpdatedAt = now }

// Clone returns a deep copy so repository reads never alias aggregate state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.OrderIDs = append([]string(nil), s.OrderIDs...)
	if s.ClosedAt != nil {
		at := *s.ClosedAt
		clone.ClosedAt = &at
	}
	return &clone
}
