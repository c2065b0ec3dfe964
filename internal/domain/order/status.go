package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/staff"
)

var (
	// ErrIllegalTransition carries the from/to context so employees can see
	// why a transition was rejected.
	ErrIllegalTransition = errors.New("order: illegal transition")
	// ErrInsufficientScope is only ever produced here; every scope check on a
	// lifecycle transition funnels through the transition tables.
	ErrInsufficientScope = errors.New("order: insufficient scope")
)

type WorkflowStatus string

const (
	WorkflowRequested         WorkflowStatus = "requested"
	WorkflowWaiterAccepted    WorkflowStatus = "waiter_accepted"
	WorkflowKitchenInProgress WorkflowStatus = "kitchen_in_progress"
	WorkflowReadyForDelivery  WorkflowStatus = "ready_for_delivery"
	WorkflowDelivered         WorkflowStatus = "delivered"
	WorkflowCancelled         WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowDelivered || s == WorkflowCancelled
}

type PaymentStatus string

const (
	PaymentUnpaid               PaymentStatus = "unpaid"
	PaymentAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentPaid                 PaymentStatus = "paid"
	PaymentRefunded             PaymentStatus = "refunded"
	PaymentVoid                 PaymentStatus = "void"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodExternal PaymentMethod = "external"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodCash, MethodCard, MethodExternal:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// RequiresConfirmation reports whether an operator must confirm the payment
// before it is considered settled.
func (m PaymentMethod) RequiresConfirmation() bool {
	return m == MethodCash || m == MethodCard
}

type transitionRule struct {
	scopes []staff.Scope
}

// Workflow transition table. The predicates that need order data (quick-serve
// composition, delivery completion) live on the aggregate; the table governs
// legality and actor scope.
var workflowTransitions = map[WorkflowStatus]map[WorkflowStatus]transitionRule{
	WorkflowRequested: {
		WorkflowWaiterAccepted: {scopes: []staff.Scope{staff.ScopeWaiter, staff.ScopeAdmin}},
		WorkflowCancelled:      {scopes: []staff.Scope{staff.ScopeAdmin, staff.ScopeSystem}},
	},
	WorkflowWaiterAccepted: {
		WorkflowKitchenInProgress: {scopes: []staff.Scope{staff.ScopeChef, staff.ScopeAdmin}},
		WorkflowReadyForDelivery:  {scopes: []staff.Scope{staff.ScopeSystem}},
		WorkflowCancelled:         {scopes: []staff.Scope{staff.ScopeAdmin, staff.ScopeSystem}},
	},
	WorkflowKitchenInProgress: {
		WorkflowReadyForDelivery: {scopes: []staff.Scope{staff.ScopeChef, staff.ScopeAdmin}},
		WorkflowCancelled:        {scopes: []staff.Scope{staff.ScopeAdmin, staff.ScopeSystem}},
	},
	WorkflowReadyForDelivery: {
		WorkflowDelivered: {scopes: []staff.Scope{staff.ScopeWaiter, staff.ScopeAdmin}},
		WorkflowCancelled: {scopes: []staff.Scope{staff.ScopeAdmin, staff.ScopeSystem}},
	},
}

var paymentTransitions = map[PaymentStatus]map[PaymentStatus]transitionRule{
	PaymentUnpaid: {
		PaymentAwaitingConfirmation: {scopes: []staff.Scope{staff.ScopeCashier, staff.ScopeWaiter, staff.ScopeAdmin}},
		PaymentPaid:                 {scopes: []staff.Scope{staff.ScopeSystem}},
		PaymentVoid:                 {scopes: []staff.Scope{staff.ScopeAdmin, staff.ScopeSystem}},
	},
	PaymentAwaitingConfirmation: {
		PaymentPaid: {scopes: []staff.Scope{staff.ScopeCashier, staff.ScopeAdmin}},
		PaymentVoid: {scopes: []staff.Scope{staff.ScopeAdmin, staff.ScopeSystem}},
	},
	PaymentPaid: {
		PaymentRefunded: {scopes: []staff.Scope{staff.ScopeAdmin}},
	},
}

// CheckWorkflowTransition validates legality and actor scope for a workflow
// transition without applying it.
func CheckWorkflowTransition(from, to WorkflowStatus, actor staff.Actor) error {
	rule, ok := workflowTransitions[from][to]
	if !ok {
		return fmt.Errorf("%w: workflow %s -> %s", ErrIllegalTransition, from, to)
	}
	if !actor.HasAnyScope(rule.scopes...) {
		return fmt.Errorf("%w: workflow %s -> %s requires one of %v", ErrInsufficientScope, from, to, rule.scopes)
	}
	return nil
}

// CheckPaymentTransition validates legality and actor scope for a payment
// transition without applying it.
func CheckPaymentTransition(from, to PaymentStatus, actor staff.Actor) error {
	rule, ok := paymentTransitions[from][to]
	if !ok {
		return fmt.Errorf("%w: payment %s -> %s", ErrIllegalTransition, from, to)
	}
	if !actor.HasAnyScope(rule.scopes...) {
		return fmt.Errorf("%w: payment %s -> %s requires one of %v", ErrInsufficientScope, from, to, rule.scopes)
	}
	return nil
}

// StatusChange is one append-only history row. Both machines record through it.
type StatusChange struct {
	OrderID string
	From    string
	To      string
	ActorID string
	Reason  string
	At      time.Time
}
