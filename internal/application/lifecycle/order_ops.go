package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/session"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"go.opentelemetry.io/otel/attribute"
)

type CreateItemInput struct {
	MenuItemID string
	Quantity   int
	Modifiers  []order.ModifierSelection
	Notes      string
}

type CreateOrderInput struct {
	CustomerID   string
	CustomerName string
	Items        []CreateItemInput
	TableID      string
	GuestCount   int
	Notes        string
}

type CreateOrderResult struct {
	OrderID   string
	Number    string
	SessionID string
	Order     *order.Order
}

// CreateOrder validates the request against a fresh menu snapshot, selects or
// opens the table's session, snapshots unit prices, and computes totals.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (_ *CreateOrderResult, err error) {
	ctx, done := s.instrument(ctx, "order.create",
		attribute.String("order.customer_id", input.CustomerID),
		attribute.Int("order.items", len(input.Items)),
	)
	defer func() { done(err) }()

	if len(input.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}

	var result *CreateOrderResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		snap, err := tx.Menu().Snapshot(ctx)
		if err != nil {
			return err
		}

		sess, err := s.sessionForTable(ctx, tx, input)
		if err != nil {
			return err
		}

		seq, err := tx.NextOrderSeq(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		number := fmt.Sprintf("ORD_%s_%03d", now.Format("20060102"), seq)
		o := order.New(s.ids.NewID(), number, input.CustomerID, sess.ID, input.Notes, now)

		for _, item := range input.Items {
			mi, err := snap.Item(item.MenuItemID)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrUnknownMenuItem, item.MenuItemID)
			}
			if !mi.Available {
				return fmt.Errorf("%w: %s is not available", ErrUnknownMenuItem, mi.Name)
			}
			if err := o.AddItem(s.ids.NewID(), mi, item.Quantity, item.Modifiers, item.Notes, now); err != nil {
				return err
			}
		}
		if err := o.RecomputeTotals(s.settings.TaxRate, s.settings.PriceMode); err != nil {
			return err
		}
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return err
		}

		if err := sess.AttachOrder(o.ID, now); err != nil {
			return fmt.Errorf("%w: %v", ErrTableUnavailable, err)
		}
		if err := tx.Sessions().Update(ctx, sess); err != nil {
			return err
		}
		if err := s.refreshSessionTotals(ctx, tx, sess.ID); err != nil {
			return err
		}

		customer := staff.Customer(input.CustomerID, input.CustomerName)
		if err := s.recordTransition(ctx, tx, o, "", string(order.WorkflowRequested), customer, "", order.CreatedEvent{
			OrderID:    o.ID,
			Number:     o.Number,
			SessionID:  o.SessionID,
			CustomerID: o.CustomerID,
			Total:      o.Total.StringFixed(2),
			OccurredAt: now,
		}); err != nil {
			return err
		}

		result = &CreateOrderResult{OrderID: o.ID, Number: o.Number, SessionID: sess.ID, Order: o.Clone()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sessionForTable finds the table's active session or opens a fresh one.
func (s *Service) sessionForTable(ctx context.Context, tx Tx, input CreateOrderInput) (*session.Session, error) {
	now := s.now()
	if input.TableID == "" {
		// Counter order: a dedicated single-order session.
		sess := session.New(s.ids.NewID(), "", input.CustomerID, input.GuestCount, now)
		if err := tx.Sessions().Insert(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	sess, err := tx.Sessions().FindActiveByTable(ctx, input.TableID)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(s.ids.NewID(), input.TableID, input.CustomerID, input.GuestCount, now)
		if err := tx.Sessions().Insert(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	default:
		return nil, err
	}
}

// Accept moves requested -> waiter_accepted and, for all-quick-serve orders,
// auto-advances to ready_for_delivery in the same transaction.
func (s *Service) Accept(ctx context.Context, orderID string, actor staff.Actor) (err error) {
	ctx, done := s.instrument(ctx, "order.accept", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := o.TransitionWorkflow(order.WorkflowWaiterAccepted, actor, now); err != nil {
			return err
		}
		o.WaiterID = actor.ID
		if err := s.recordTransition(ctx, tx, o, string(order.WorkflowRequested), string(order.WorkflowWaiterAccepted), actor, "", order.AcceptedEvent{
			OrderID: o.ID, Number: o.Number, ActorID: actor.ID, OccurredAt: now,
		}); err != nil {
			return err
		}

		if o.AllQuickServe() {
			system := staff.System()
			if err := o.TransitionWorkflow(order.WorkflowReadyForDelivery, system, now); err != nil {
				return err
			}
			if err := s.recordTransition(ctx, tx, o, string(order.WorkflowWaiterAccepted), string(order.WorkflowReadyForDelivery), system, "all items quick-serve", order.ReadyEvent{
				OrderID: o.ID, Number: o.Number, ActorID: system.ID, OccurredAt: now,
			}); err != nil {
				return err
			}
		}
		return tx.Orders().Update(ctx, o)
	})
}

// StartPrep moves waiter_accepted -> kitchen_in_progress. All-quick-serve
// orders never enter the kitchen; they auto-advanced at accept time.
func (s *Service) StartPrep(ctx context.Context, orderID string, actor staff.Actor) (err error) {
	ctx, done := s.instrument(ctx, "order.start_prep", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := o.TransitionWorkflow(order.WorkflowKitchenInProgress, actor, now); err != nil {
			return err
		}
		o.ChefID = actor.ID
		if err := s.recordTransition(ctx, tx, o, string(order.WorkflowWaiterAccepted), string(order.WorkflowKitchenInProgress), actor, "", order.StartedEvent{
			OrderID: o.ID, Number: o.Number, ActorID: actor.ID, OccurredAt: now,
		}); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, o)
	})
}

// MarkReady moves kitchen_in_progress -> ready_for_delivery.
func (s *Service) MarkReady(ctx context.Context, orderID string, actor staff.Actor) (err error) {
	ctx, done := s.instrument(ctx, "order.mark_ready", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := o.TransitionWorkflow(order.WorkflowReadyForDelivery, actor, now); err != nil {
			return err
		}
		if err := s.recordTransition(ctx, tx, o, string(order.WorkflowKitchenInProgress), string(order.WorkflowReadyForDelivery), actor, "", order.ReadyEvent{
			OrderID: o.ID, Number: o.Number, ActorID: actor.ID, OccurredAt: now,
		}); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, o)
	})
}

type DeliverResult struct {
	FullyDelivered bool
}

// Deliver applies a partial or full delivery. An empty item list means
// everything outstanding. The workflow moves to delivered only on completion.
func (s *Service) Deliver(ctx context.Context, orderID string, actor staff.Actor, deliveries []order.Delivery) (_ *DeliverResult, err error) {
	ctx, done := s.instrument(ctx, "order.deliver",
		attribute.String("order.id", orderID),
		attribute.Int("delivery.lines", len(deliveries)),
	)
	defer func() { done(err) }()

	var result *DeliverResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()

		var completed bool
		if len(deliveries) == 0 {
			completed, err = o.DeliverAll(actor, now)
		} else {
			completed, err = o.Deliver(deliveries, actor, now)
		}
		if err != nil {
			return err
		}

		if completed {
			if err := s.recordTransition(ctx, tx, o, string(order.WorkflowReadyForDelivery), string(order.WorkflowDelivered), actor, "", order.DeliveredEvent{
				OrderID: o.ID, Number: o.Number, ActorID: actor.ID, OccurredAt: now,
			}); err != nil {
				return err
			}
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		result = &DeliverResult{FullyDelivered: completed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel terminates an order. Paid amounts move to refunded, pending ones to
// void, and the session recomputes without the cancelled order's totals.
func (s *Service) Cancel(ctx context.Context, orderID string, actor staff.Actor, reason string) (err error) {
	ctx, done := s.instrument(ctx, "order.cancel", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	if reason == "" {
		return fmt.Errorf("%w: cancellation requires a reason", order.ErrIllegalMutation)
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		fromWorkflow := o.Workflow
		if err := o.TransitionWorkflow(order.WorkflowCancelled, actor, now); err != nil {
			return err
		}
		if err := s.recordTransition(ctx, tx, o, string(fromWorkflow), string(order.WorkflowCancelled), actor, reason, nil); err != nil {
			return err
		}

		fromPayment := o.Payment
		var toPayment order.PaymentStatus
		switch o.Payment {
		case order.PaymentPaid:
			toPayment = order.PaymentRefunded
		case order.PaymentUnpaid, order.PaymentAwaitingConfirmation:
			toPayment = order.PaymentVoid
		}
		if toPayment != "" {
			if err := o.TransitionPayment(toPayment, actor, now); err != nil {
				return err
			}
			if err := s.recordTransition(ctx, tx, o, string(fromPayment), string(toPayment), actor, reason, nil); err != nil {
				return err
			}
		}

		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		return s.refreshSessionTotals(ctx, tx, o.SessionID)
	})
}

// GetOrder returns a snapshot of one order with its status history.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*order.Order, []order.StatusChange, error) {
	var (
		o       *order.Order
		history []order.StatusChange
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.Orders().Get(ctx, orderID); err != nil {
			return err
		}
		history, err = tx.History().ListByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return o, history, nil
}

// Menu returns the current menu snapshot for the client listing.
func (s *Service) Menu(ctx context.Context) (*menu.Snapshot, error) {
	var snap *menu.Snapshot
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		snap, err = tx.Menu().Snapshot(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ValidateSession reports whether a session still accepts orders or payment.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	var active bool
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		active = sess.Active()
		return nil
	})
	if err != nil {
		return false, err
	}
	return active, nil
}
