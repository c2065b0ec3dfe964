package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/outbox"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/domain/session"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

var checkoutScopes = []staff.Scope{staff.ScopeCashier, staff.ScopeWaiter, staff.ScopeAdmin}

// PrepareCheckout freezes the session for payment. Idempotent: repeat calls
// return the same totals without a second state change.
func (s *Service) PrepareCheckout(ctx context.Context, sessionID string, actor staff.Actor) (_ *pricing.Totals, err error) {
	ctx, done := s.instrument(ctx, "session.checkout", attribute.String("session.id", sessionID))
	defer func() { done(err) }()

	if !actor.HasAnyScope(checkoutScopes...) {
		return nil, fmt.Errorf("%w: checkout requires one of %v", order.ErrInsufficientScope, checkoutScopes)
	}

	var totals pricing.Totals
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if _, err := sess.PrepareCheckout(s.now()); err != nil {
			return err
		}
		orders, err := tx.Orders().ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		sess.RecomputeTotals(orders, s.now())
		if err := tx.Sessions().Update(ctx, sess); err != nil {
			return err
		}
		totals = pricing.Totals{Subtotal: sess.Subtotal, Tax: sess.Tax, Tip: sess.Tip, Total: sess.Total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// TipInput selects either a flat amount or a percentage of the session's
// pre-tip total. Both nil means no tip.
type TipInput struct {
	Amount     *decimal.Decimal
	Percentage *decimal.Decimal
}

type PayInput struct {
	SessionID       string
	Method          order.PaymentMethod
	Tip             TipInput
	CustomerContact string
}

type PayResult struct {
	RequiresConfirmation bool
	Totals               pricing.Totals
}

// Pay selects the payment method for every constituent order. External
// provider payments settle immediately; cash and card wait for operator
// confirmation. The session row lock serializes concurrent attempts: the
// second caller sees the updated state and fails with AlreadyPaid.
func (s *Service) Pay(ctx context.Context, input PayInput, actor staff.Actor) (_ *PayResult, err error) {
	ctx, done := s.instrument(ctx, "session.pay",
		attribute.String("session.id", input.SessionID),
		attribute.String("payment.method", string(input.Method)),
	)
	defer func() { done(err) }()

	switch input.Method {
	case order.MethodCash, order.MethodCard, order.MethodExternal:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, input.Method)
	}

	var result *PayResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, input.SessionID)
		if err != nil {
			return err
		}
		switch sess.Status {
		case session.StatusAwaitingPayment:
		case session.StatusPaid:
			return session.ErrAlreadyPaid
		default:
			return fmt.Errorf("%w: session is %s", session.ErrNotCheckedOut, sess.Status)
		}

		orders, err := tx.Orders().ListBySession(ctx, input.SessionID)
		if err != nil {
			return err
		}
		payable := payableOrders(orders)
		if len(payable) == 0 {
			return fmt.Errorf("%w: session has nothing to pay", session.ErrClosed)
		}
		for _, o := range payable {
			if o.Payment != order.PaymentUnpaid {
				return fmt.Errorf("%w: payment already in progress", session.ErrAlreadyPaid)
			}
		}

		now := s.now()
		tip, err := resolveTip(input.Tip, sess.Subtotal.Add(sess.Tax))
		if err != nil {
			return err
		}
		if err := allocateTip(payable, tip); err != nil {
			return err
		}

		requiresConfirmation := input.Method.RequiresConfirmation()
		for _, o := range payable {
			o.Method = input.Method
			if err := o.RecomputeTotals(s.settings.TaxRate, s.settings.PriceMode); err != nil {
				return err
			}
			from := o.Payment
			if requiresConfirmation {
				if err := o.TransitionPayment(order.PaymentAwaitingConfirmation, actor, now); err != nil {
					return err
				}
				if err := s.recordTransition(ctx, tx, o, string(from), string(o.Payment), actor, "", nil); err != nil {
					return err
				}
			} else {
				// Auto-confirmed provider: delivery must already be complete.
				if o.Workflow != order.WorkflowDelivered {
					return fmt.Errorf("%w: order %s not delivered", order.ErrIllegalTransition, o.Number)
				}
				system := staff.System()
				if err := o.TransitionPayment(order.PaymentPaid, system, now); err != nil {
					return err
				}
				if err := s.recordTransition(ctx, tx, o, string(from), string(o.Payment), system, "", order.PaidEvent{
					OrderID: o.ID, Number: o.Number, SessionID: sess.ID,
					Method: string(input.Method), Total: o.Total.StringFixed(2), OccurredAt: now,
				}); err != nil {
					return err
				}
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
		}

		if input.CustomerContact != "" {
			sess.ReceiptEmail = input.CustomerContact
		}
		sess.RecomputeTotals(orders, now)
		if sess.MarkPaidIfComplete(orders, now) {
			if err := s.enqueueReceipt(ctx, tx, sess); err != nil {
				return err
			}
		}
		if err := tx.Sessions().Update(ctx, sess); err != nil {
			return err
		}

		result = &PayResult{
			RequiresConfirmation: requiresConfirmation,
			Totals:               pricing.Totals{Subtotal: sess.Subtotal, Tax: sess.Tax, Tip: sess.Tip, Total: sess.Total},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConfirmPayment settles every pending cash/card order on the session.
// Idempotent once the session is paid.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID string, actor staff.Actor) (err error) {
	ctx, done := s.instrument(ctx, "session.confirm_payment", attribute.String("session.id", sessionID))
	defer func() { done(err) }()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == session.StatusPaid {
			return nil
		}
		if sess.Status != session.StatusAwaitingPayment {
			return fmt.Errorf("%w: session is %s", session.ErrNotCheckedOut, sess.Status)
		}

		orders, err := tx.Orders().ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		now := s.now()
		confirmed := 0
		for _, o := range payableOrders(orders) {
			if o.Payment != order.PaymentAwaitingConfirmation {
				continue
			}
			if o.Workflow != order.WorkflowDelivered {
				return fmt.Errorf("%w: order %s not delivered", order.ErrIllegalTransition, o.Number)
			}
			from := o.Payment
			if err := o.TransitionPayment(order.PaymentPaid, actor, now); err != nil {
				return err
			}
			if err := s.recordTransition(ctx, tx, o, string(from), string(o.Payment), actor, "", order.PaidEvent{
				OrderID: o.ID, Number: o.Number, SessionID: sess.ID,
				Method: string(o.Method), Total: o.Total.StringFixed(2), OccurredAt: now,
			}); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			confirmed++
		}
		if confirmed == 0 {
			return fmt.Errorf("%w: no payment awaiting confirmation", order.ErrIllegalTransition)
		}

		if sess.MarkPaidIfComplete(orders, now) {
			if err := s.enqueueReceipt(ctx, tx, sess); err != nil {
				return err
			}
		}
		return tx.Sessions().Update(ctx, sess)
	})
}

// ResendReceipt re-enqueues receipt delivery without touching financial
// state. The idempotency key bounds duplicates to one per session, target,
// and day.
func (s *Service) ResendReceipt(ctx context.Context, sessionID string, actor staff.Actor, channel, target string) (err error) {
	ctx, done := s.instrument(ctx, "session.resend_receipt", attribute.String("session.id", sessionID))
	defer func() { done(err) }()

	if !actor.HasAnyScope(checkoutScopes...) {
		return fmt.Errorf("%w: resend requires one of %v", order.ErrInsufficientScope, checkoutScopes)
	}
	if channel == "" {
		channel = "email"
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if target == "" {
			target = sess.ReceiptEmail
		}
		now := s.now()
		event := session.ReceiptRequestedEvent{
			SessionID:      sess.ID,
			Channel:        channel,
			Target:         target,
			IdempotencyKey: receiptKey(sess.ID, target, now),
			OccurredAt:     now,
		}
		env, err := outbox.Wrap(event, "", sess.ID, event.IdempotencyKey, now)
		if err != nil {
			return err
		}
		return tx.Outbox().Enqueue(ctx, env)
	})
}

// RenderReceipt returns the rendered ticket bytes for the reprint endpoint.
func (s *Service) RenderReceipt(ctx context.Context, sessionID string) ([]byte, error) {
	var data ReceiptData
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		orders, err := tx.Orders().ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		data = ReceiptData{Session: sess, Orders: orders, Currency: s.settings.Currency, GeneratedAt: s.now()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	receipt, err := s.renderer.Render(data)
	if err != nil {
		return nil, err
	}
	return receipt.HTML, nil
}

// ReceiptDataForSession loads the snapshot the outbox worker renders from.
func (s *Service) ReceiptDataForSession(ctx context.Context, sessionID string) (ReceiptData, error) {
	var data ReceiptData
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		orders, err := tx.Orders().ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		data = ReceiptData{Session: sess, Orders: orders, Currency: s.settings.Currency, GeneratedAt: s.now()}
		return nil
	})
	return data, err
}

// CloseSession finishes a paid (or empty open) session.
func (s *Service) CloseSession(ctx context.Context, sessionID string, actor staff.Actor) (err error) {
	ctx, done := s.instrument(ctx, "session.close", attribute.String("session.id", sessionID))
	defer func() { done(err) }()

	if !actor.HasAnyScope(checkoutScopes...) {
		return fmt.Errorf("%w: close requires one of %v", order.ErrInsufficientScope, checkoutScopes)
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := sess.Close(actor, s.now()); err != nil {
			return err
		}
		return tx.Sessions().Update(ctx, sess)
	})
}

// CloseExpiredSessions closes empty open sessions idle past the configured
// timeout. Invoked periodically by the janitor in main.
func (s *Service) CloseExpiredSessions(ctx context.Context) (closed int, err error) {
	ctx, done := s.instrument(ctx, "session.close_expired")
	defer func() { done(err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cutoff := s.now().Add(-s.settings.SessionTimeout)
		idle, err := tx.Sessions().ListIdleOpen(ctx, cutoff)
		if err != nil {
			return err
		}
		system := staff.System()
		for _, sess := range idle {
			if len(sess.OrderIDs) > 0 {
				continue
			}
			if err := sess.Close(system, s.now()); err != nil {
				continue
			}
			if err := tx.Sessions().Update(ctx, sess); err != nil {
				return err
			}
			closed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return closed, nil
}

func (s *Service) enqueueReceipt(ctx context.Context, tx Tx, sess *session.Session) error {
	now := s.now()
	event := session.ReceiptRequestedEvent{
		SessionID:      sess.ID,
		Channel:        "email",
		Target:         sess.ReceiptEmail,
		IdempotencyKey: receiptKey(sess.ID, sess.ReceiptEmail, now),
		OccurredAt:     now,
	}
	env, err := outbox.Wrap(event, "", sess.ID, event.IdempotencyKey, now)
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, env)
}

func receiptKey(sessionID, target string, now time.Time) string {
	return fmt.Sprintf("receipt|%s|%s|%s", sessionID, target, now.Format("2006-01-02"))
}

func payableOrders(orders []*order.Order) []*order.Order {
	out := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		if o.Workflow == order.WorkflowCancelled {
			continue
		}
		out = append(out, o)
	}
	return out
}

// resolveTip turns the tip input into a concrete amount. Percentages are
// relative to the session's pre-tip total.
func resolveTip(in TipInput, preTipTotal decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case in.Amount != nil:
		if in.Amount.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: tip %s is negative", pricing.ErrInvalidAmount, in.Amount)
		}
		return in.Amount.Round(2), nil
	case in.Percentage != nil:
		if in.Percentage.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: tip percentage %s is negative", pricing.ErrInvalidAmount, in.Percentage)
		}
		return preTipTotal.Mul(*in.Percentage).Div(decimal.NewFromInt(100)).Round(2), nil
	}
	return decimal.Zero, nil
}

// allocateTip spreads the tip across orders proportionally to their pre-tip
// totals. The last order absorbs the rounding remainder so cents conserve.
func allocateTip(orders []*order.Order, tip decimal.Decimal) error {
	if tip.IsZero() || len(orders) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, o := range orders {
		sum = sum.Add(o.Subtotal.Add(o.Tax))
	}
	if sum.IsZero() {
		orders[len(orders)-1].Tip = tip
		return nil
	}
	remaining := tip
	for i, o := range orders {
		if i == len(orders)-1 {
			o.Tip = remaining
			break
		}
		share := tip.Mul(o.Subtotal.Add(o.Tax)).Div(sum).Round(2)
		o.Tip = share
		remaining = remaining.Sub(share)
	}
	return nil
}
