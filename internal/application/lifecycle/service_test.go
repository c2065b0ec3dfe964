package lifecycle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/domain/session"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"github.com/prontopos/pronto-core/internal/infrastructure/memory"
	"github.com/prontopos/pronto-core/internal/observability"
)

var fixedNow = time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)

type seqIDs struct{ n int }

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

type stubRenderer struct{}

func (stubRenderer) Render(data lifecycle.ReceiptData) (lifecycle.Receipt, error) {
	return lifecycle.Receipt{HTML: []byte("<html>" + data.Session.ID + "</html>")}, nil
}

func waiter() staff.Actor {
	return staff.Actor{ID: "emp-w", Name: "Ana", Role: staff.RoleWaiter, Scopes: staff.DefaultScopes(staff.RoleWaiter), Active: true}
}

func chef() staff.Actor {
	return staff.Actor{ID: "emp-c", Name: "Luis", Role: staff.RoleChef, Scopes: staff.DefaultScopes(staff.RoleChef), Active: true}
}

func cashier() staff.Actor {
	return staff.Actor{ID: "emp-$", Name: "Mar", Role: staff.RoleCashier, Scopes: staff.DefaultScopes(staff.RoleCashier), Active: true}
}

func admin() staff.Actor {
	return staff.Actor{ID: "emp-a", Name: "Sam", Role: staff.RoleAdmin, Scopes: staff.DefaultScopes(staff.RoleAdmin), Active: true}
}

func newService(t *testing.T) (*lifecycle.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(memory.DemoMenu())
	svc := lifecycle.New(store, &seqIDs{}, stubRenderer{}, lifecycle.Settings{
		Currency:       "MXN",
		TaxRate:        decimal.RequireFromString("0.16"),
		PriceMode:      pricing.TaxInclusive,
		SessionTimeout: 2 * time.Hour,
	}, observability.Nop()).WithClock(func() time.Time { return fixedNow })
	return svc, store
}

func createOrder(t *testing.T, svc *lifecycle.Service, tableID string, items ...lifecycle.CreateItemInput) *lifecycle.CreateOrderResult {
	t.Helper()
	result, err := svc.CreateOrder(context.Background(), lifecycle.CreateOrderInput{
		CustomerID:   "cust-1",
		CustomerName: "Pat",
		TableID:      tableID,
		GuestCount:   2,
		Items:        items,
	})
	require.NoError(t, err)
	return result
}

func limonada(qty int) lifecycle.CreateItemInput {
	return lifecycle.CreateItemInput{MenuItemID: "item-limonada", Quantity: qty}
}

func burger() lifecycle.CreateItemInput {
	return lifecycle.CreateItemInput{
		MenuItemID: "item-burger",
		Quantity:   1,
		Modifiers: []order.ModifierSelection{
			{GroupID: "grp-term", ModifierID: "mod-medio", Quantity: 1},
			{GroupID: "grp-extras", ModifierID: "mod-queso", Quantity: 1},
		},
	}
}

func outboxKinds(t *testing.T, store *memory.Store) []string {
	t.Helper()
	pending, err := store.Outbox().Pending(context.Background(), fixedNow.Add(24*time.Hour), 100)
	require.NoError(t, err)
	kinds := make([]string, 0, len(pending))
	for _, env := range pending {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

func countKind(kinds []string, kind string) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestQuickServeCashFlow(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	created := createOrder(t, svc, "table-7", limonada(1))
	assert.Equal(t, "ORD_20250301_001", created.Number)
	assert.Equal(t, "30.17", created.Order.Subtotal.StringFixed(2))
	assert.Equal(t, "4.83", created.Order.Tax.StringFixed(2))
	assert.Equal(t, "35.00", created.Order.Total.StringFixed(2))

	// Accept auto-advances the all-quick-serve order past the kitchen.
	require.NoError(t, svc.Accept(ctx, created.OrderID, waiter()))
	o, history, err := svc.GetOrder(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.WorkflowReadyForDelivery, o.Workflow)
	require.Len(t, history, 3)
	assert.Equal(t, "system", history[2].ActorID)
	assert.Equal(t, string(order.WorkflowReadyForDelivery), history[2].To)

	result, err := svc.Deliver(ctx, created.OrderID, waiter(), nil)
	require.NoError(t, err)
	assert.True(t, result.FullyDelivered)

	totals, err := svc.PrepareCheckout(ctx, created.SessionID, waiter())
	require.NoError(t, err)
	assert.Equal(t, "35.00", totals.Total.StringFixed(2))

	payResult, err := svc.Pay(ctx, lifecycle.PayInput{
		SessionID:       created.SessionID,
		Method:          order.MethodCash,
		CustomerContact: "pat@example.com",
	}, cashier())
	require.NoError(t, err)
	assert.True(t, payResult.RequiresConfirmation)

	// Cash is not settled until the operator confirms.
	active, err := svc.ValidateSession(ctx, created.SessionID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, svc.ConfirmPayment(ctx, created.SessionID, cashier()))

	o, _, err = svc.GetOrder(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.Payment)

	active, err = svc.ValidateSession(ctx, created.SessionID)
	require.NoError(t, err)
	assert.False(t, active)

	kinds := outboxKinds(t, store)
	assert.Equal(t, 1, countKind(kinds, "order_created"))
	assert.Equal(t, 1, countKind(kinds, "order_ready"))
	assert.Equal(t, 1, countKind(kinds, "order_delivered"))
	assert.Equal(t, 1, countKind(kinds, "order_paid"))
	assert.Equal(t, 1, countKind(kinds, "receipt_requested"), "exactly one receipt per session and day")

	// A same-day resend to the same address dedupes on the idempotency key.
	require.NoError(t, svc.ResendReceipt(ctx, created.SessionID, cashier(), "", ""))
	assert.Equal(t, 1, countKind(outboxKinds(t, store), "receipt_requested"))
}

func TestKitchenCardFlowSharedSession(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	first := createOrder(t, svc, "table-3", limonada(1))
	second := createOrder(t, svc, "table-3", burger())
	assert.Equal(t, first.SessionID, second.SessionID, "same table joins the open session")

	require.NoError(t, svc.Accept(ctx, first.OrderID, waiter()))
	require.NoError(t, svc.Accept(ctx, second.OrderID, waiter()))

	// The burger routes through the kitchen.
	require.NoError(t, svc.StartPrep(ctx, second.OrderID, chef()))
	require.NoError(t, svc.MarkReady(ctx, second.OrderID, chef()))

	_, err := svc.Deliver(ctx, first.OrderID, waiter(), nil)
	require.NoError(t, err)
	_, err = svc.Deliver(ctx, second.OrderID, waiter(), nil)
	require.NoError(t, err)

	totals, err := svc.PrepareCheckout(ctx, first.SessionID, cashier())
	require.NoError(t, err)
	assert.Equal(t, "104.74", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "16.76", totals.Tax.StringFixed(2))
	assert.Equal(t, "121.50", totals.Total.StringFixed(2))

	tip := decimal.RequireFromString("12.00")
	payResult, err := svc.Pay(ctx, lifecycle.PayInput{
		SessionID: first.SessionID,
		Method:    order.MethodCard,
		Tip:       lifecycle.TipInput{Amount: &tip},
	}, cashier())
	require.NoError(t, err)
	assert.True(t, payResult.RequiresConfirmation)
	assert.Equal(t, "133.50", payResult.Totals.Total.StringFixed(2))

	require.NoError(t, svc.ConfirmPayment(ctx, first.SessionID, cashier()))

	// Tip splits proportionally and conserves cents across the two orders.
	o1, _, err := svc.GetOrder(ctx, first.OrderID)
	require.NoError(t, err)
	o2, _, err := svc.GetOrder(ctx, second.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "12.00", o1.Tip.Add(o2.Tip).StringFixed(2))
	assert.Equal(t, "133.50", o1.Total.Add(o2.Total).StringFixed(2))

	assert.Equal(t, 2, countKind(outboxKinds(t, store), "order_paid"))
}

func TestPartialDeliveryKeepsOrderReady(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created := createOrder(t, svc, "table-5", limonada(3))
	require.NoError(t, svc.Accept(ctx, created.OrderID, waiter()))

	itemID := created.Order.Items[0].ID
	result, err := svc.Deliver(ctx, created.OrderID, waiter(), []order.Delivery{{ItemID: itemID, Quantity: 2}})
	require.NoError(t, err)
	assert.False(t, result.FullyDelivered)

	o, _, err := svc.GetOrder(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.WorkflowReadyForDelivery, o.Workflow)
	assert.Equal(t, 2, o.Items[0].DeliveredQuantity)

	result, err = svc.Deliver(ctx, created.OrderID, waiter(), nil)
	require.NoError(t, err)
	assert.True(t, result.FullyDelivered)
}

func TestIllegalTransitionLeavesNoTrace(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	created := createOrder(t, svc, "table-2", burger())

	// Kitchen cannot start on an order the waiter has not accepted.
	err := svc.StartPrep(ctx, created.OrderID, chef())
	require.ErrorIs(t, err, order.ErrIllegalTransition)

	o, history, err := svc.GetOrder(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.WorkflowRequested, o.Workflow)
	assert.Len(t, history, 1, "rejected transition must not append history")
	assert.Equal(t, 0, countKind(outboxKinds(t, store), "order_started"))
}

func TestConcurrentPaySecondFails(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created := createOrder(t, svc, "table-8", limonada(1))
	require.NoError(t, svc.Accept(ctx, created.OrderID, waiter()))
	_, err := svc.Deliver(ctx, created.OrderID, waiter(), nil)
	require.NoError(t, err)
	_, err = svc.PrepareCheckout(ctx, created.SessionID, cashier())
	require.NoError(t, err)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, errs[i] = svc.Pay(ctx, lifecycle.PayInput{
				SessionID: created.SessionID,
				Method:    order.MethodCash,
			}, cashier())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, session.ErrAlreadyPaid)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two concurrent payments wins")
}

func TestCancelVoidsPendingPayment(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	keep := createOrder(t, svc, "table-4", limonada(1))
	drop := createOrder(t, svc, "table-4", burger())
	require.Equal(t, keep.SessionID, drop.SessionID)

	require.NoError(t, svc.Accept(ctx, keep.OrderID, waiter()))
	require.NoError(t, svc.Accept(ctx, drop.OrderID, waiter()))
	_, err := svc.Deliver(ctx, keep.OrderID, waiter(), nil)
	require.NoError(t, err)

	_, err = svc.PrepareCheckout(ctx, keep.SessionID, cashier())
	require.NoError(t, err)
	_, err = svc.Pay(ctx, lifecycle.PayInput{SessionID: keep.SessionID, Method: order.MethodCash}, cashier())
	require.NoError(t, err)

	// The kitchen ran out of patties; the pending charge voids with the order.
	err = svc.Cancel(ctx, drop.OrderID, waiter(), "out of stock")
	require.ErrorIs(t, err, order.ErrInsufficientScope)

	require.NoError(t, svc.Cancel(ctx, drop.OrderID, admin(), "out of stock"))
	o, _, err := svc.GetOrder(ctx, drop.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.WorkflowCancelled, o.Workflow)
	assert.Equal(t, order.PaymentVoid, o.Payment)

	// Totals drop to the surviving order and the session can settle.
	require.NoError(t, svc.ConfirmPayment(ctx, keep.SessionID, cashier()))
	active, err := svc.ValidateSession(ctx, keep.SessionID)
	require.NoError(t, err)
	assert.False(t, active)

	html, err := svc.RenderReceipt(ctx, keep.SessionID)
	require.NoError(t, err)
	assert.Contains(t, string(html), keep.SessionID)
}

func TestCancelRequiresReason(t *testing.T) {
	svc, _ := newService(t)
	created := createOrder(t, svc, "table-1", limonada(1))

	err := svc.Cancel(context.Background(), created.OrderID, admin(), "")
	assert.ErrorIs(t, err, order.ErrIllegalMutation)
}

func TestCounterOrderGetsOwnSession(t *testing.T) {
	svc, _ := newService(t)

	first := createOrder(t, svc, "", limonada(1))
	second := createOrder(t, svc, "", limonada(1))
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestExternalPaymentSettlesImmediately(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	created := createOrder(t, svc, "table-6", limonada(1))
	require.NoError(t, svc.Accept(ctx, created.OrderID, waiter()))

	_, err := svc.PrepareCheckout(ctx, created.SessionID, cashier())
	require.NoError(t, err)

	// External settlement requires completed delivery.
	_, err = svc.Pay(ctx, lifecycle.PayInput{SessionID: created.SessionID, Method: order.MethodExternal}, cashier())
	require.ErrorIs(t, err, order.ErrIllegalTransition)

	_, err = svc.Deliver(ctx, created.OrderID, waiter(), nil)
	require.NoError(t, err)

	payResult, err := svc.Pay(ctx, lifecycle.PayInput{
		SessionID:       created.SessionID,
		Method:          order.MethodExternal,
		CustomerContact: "pat@example.com",
	}, cashier())
	require.NoError(t, err)
	assert.False(t, payResult.RequiresConfirmation)

	active, err := svc.ValidateSession(ctx, created.SessionID)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 1, countKind(outboxKinds(t, store), "receipt_requested"))
}

func TestCloseExpiredSessionsSkipsBusyOnes(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	busy := createOrder(t, svc, "table-9", limonada(1))

	// An empty walk-away session, idle past the timeout.
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		idle := session.New("sess-idle", "table-10", "", 0, fixedNow.Add(-3*time.Hour))
		return tx.Sessions().Insert(ctx, idle)
	}))

	closed, err := svc.CloseExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	active, err := svc.ValidateSession(ctx, busy.SessionID)
	require.NoError(t, err)
	assert.True(t, active, "sessions holding orders never auto-close")
}

func TestPercentageTip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created := createOrder(t, svc, "table-11", limonada(1))
	require.NoError(t, svc.Accept(ctx, created.OrderID, waiter()))
	_, err := svc.Deliver(ctx, created.OrderID, waiter(), nil)
	require.NoError(t, err)
	_, err = svc.PrepareCheckout(ctx, created.SessionID, cashier())
	require.NoError(t, err)

	pct := decimal.RequireFromString("10")
	payResult, err := svc.Pay(ctx, lifecycle.PayInput{
		SessionID: created.SessionID,
		Method:    order.MethodCash,
		Tip:       lifecycle.TipInput{Percentage: &pct},
	}, cashier())
	require.NoError(t, err)

	// 10% of 35.00.
	assert.Equal(t, "3.50", payResult.Totals.Tip.StringFixed(2))
	assert.Equal(t, "38.50", payResult.Totals.Total.StringFixed(2))
}


func TestUnsetPriceModeDefaultsToTaxInclusive(t *testing.T) {
	store := memory.NewStore(memory.DemoMenu())
	svc := lifecycle.New(store, &seqIDs{}, stubRenderer{}, lifecycle.Settings{
		Currency:       "MXN",
		TaxRate:        decimal.RequireFromString("0.16"),
		SessionTimeout: 2 * time.Hour,
	}, observability.Nop()).WithClock(func() time.Time { return fixedNow })

	created := createOrder(t, svc, "table-1", limonada(1))

	// Display prices carry the tax when no mode is configured.
	assert.Equal(t, "30.17", created.Order.Subtotal.StringFixed(2))
	assert.Equal(t, "4.83", created.Order.Tax.StringFixed(2))
	assert.Equal(t, "35.00", created.Order.Total.StringFixed(2))
}
