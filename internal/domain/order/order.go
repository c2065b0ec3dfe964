package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrEmptyOrder        = errors.New("order: at least one item is required")
	ErrModifierViolation = errors.New("order: modifier selection violates group bounds")
	ErrIllegalMutation   = errors.New("order: illegal mutation")
)

// ItemModifier is a selected modifier with its adjustment snapshotted at
// order creation.
type ItemModifier struct {
	GroupID        string
	ModifierID     string
	Name           string
	Quantity       int
	UnitAdjustment decimal.Decimal
}

// Item is one order line. DeliveredQuantity only ever grows, up to Quantity.
type Item struct {
	ID                string
	MenuItemID        string
	Name              string
	Quantity          int
	UnitPrice         decimal.Decimal
	QuickServe        bool
	Notes             string
	Modifiers         []ItemModifier
	DeliveredQuantity int
	DeliveredAt       *time.Time
	DeliveredBy       string
}

func (i Item) FullyDelivered() bool {
	return i.DeliveredQuantity >= i.Quantity
}

// Order is the aggregate root for one submission of items.
type Order struct {
	ID         string
	Number     string
	CustomerID string
	SessionID  string

	Workflow WorkflowStatus
	Payment  PaymentStatus

	Method     PaymentMethod
	PaymentRef string

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal

	Notes    string
	WaiterID string
	ChefID   string

	Items []Item

	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id, number, customerID, sessionID, notes string, now time.Time) *Order {
	return &Order{
		ID:         id,
		Number:     number,
		CustomerID: customerID,
		SessionID:  sessionID,
		Workflow:   WorkflowRequested,
		Payment:    PaymentUnpaid,
		Subtotal:   decimal.Zero,
		Tax:        decimal.Zero,
		Tip:        decimal.Zero,
		Total:      decimal.Zero,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ModifierSelection is the customer's choice within one modifier group.
type ModifierSelection struct {
	GroupID    string
	ModifierID string
	Quantity   int
}

// AddItem appends a line with unit price, modifier adjustments, and the
// quick-serve flag snapshotted from the menu. Only legal while the order is
// still requested.
func (o *Order) AddItem(itemID string, mi menu.Item, quantity int, selections []ModifierSelection, notes string, now time.Time) error {
	if o.Workflow != WorkflowRequested {
		return fmt.Errorf("%w: add item while %s", ErrIllegalMutation, o.Workflow)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %d must be positive", pricing.ErrInvalidAmount, quantity)
	}

	mods, err := resolveModifiers(mi, selections)
	if err != nil {
		return err
	}

	o.Items = append(o.Items, Item{
		ID:         itemID,
		MenuItemID: mi.ID,
		Name:       mi.Name,
		Quantity:   quantity,
		UnitPrice:  mi.Price,
		QuickServe: mi.QuickServe,
		Notes:      notes,
		Modifiers:  mods,
	})
	o.touch(now)
	return nil
}

func resolveModifiers(mi menu.Item, selections []ModifierSelection) ([]ItemModifier, error) {
	mods := make([]ItemModifier, 0, len(selections))
	perGroup := make(map[string]int)

	for _, sel := range selections {
		group, ok := mi.Group(sel.GroupID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown group %q on %q", ErrModifierViolation, sel.GroupID, mi.Name)
		}
		mod, ok := group.Find(sel.ModifierID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown modifier %q in group %q", ErrModifierViolation, sel.ModifierID, group.Name)
		}
		if sel.Quantity <= 0 {
			return nil, fmt.Errorf("%w: modifier %q quantity must be positive", ErrModifierViolation, mod.Name)
		}
		perGroup[group.ID] += sel.Quantity
		mods = append(mods, ItemModifier{
			GroupID:        group.ID,
			ModifierID:     mod.ID,
			Name:           mod.Name,
			Quantity:       sel.Quantity,
			UnitAdjustment: mod.PriceAdjustment,
		})
	}

	for _, group := range mi.ModifierGroups {
		total := perGroup[group.ID]
		if total == 0 {
			if group.Required && group.MinSelect > 0 {
				return nil, fmt.Errorf("%w: group %q requires at least %d selection(s)", ErrModifierViolation, group.Name, group.MinSelect)
			}
			continue
		}
		if total < group.MinSelect {
			return nil, fmt.Errorf("%w: group %q requires at least %d selection(s), got %d", ErrModifierViolation, group.Name, group.MinSelect, total)
		}
		if group.MaxSelect > 0 && total > group.MaxSelect {
			return nil, fmt.Errorf("%w: group %q allows at most %d selection(s), got %d", ErrModifierViolation, group.Name, group.MaxSelect, total)
		}
	}
	return mods, nil
}

// RemoveItem drops a line. Only legal while the order is still requested.
func (o *Order) RemoveItem(itemID string, now time.Time) error {
	if o.Workflow != WorkflowRequested {
		return fmt.Errorf("%w: remove item while %s", ErrIllegalMutation, o.Workflow)
	}
	for idx, it := range o.Items {
		if it.ID == itemID {
			o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
			o.touch(now)
			return nil
		}
	}
	return fmt.Errorf("%w: item %s not on order", ErrIllegalMutation, itemID)
}

// Delivery is a partial or full delivery command for one line.
type Delivery struct {
	ItemID   string
	Quantity int
}

// Deliver increases delivered counters. Delivery is one command against the
// ready_for_delivery -> delivered rule, so the scope check happens up front
// even when the quantities only cover part of the order. The workflow status
// changes only once every line is fully delivered.
func (o *Order) Deliver(deliveries []Delivery, actor staff.Actor, now time.Time) (bool, error) {
	if o.Workflow != WorkflowReadyForDelivery {
		return false, fmt.Errorf("%w: deliver while workflow %s", ErrIllegalTransition, o.Workflow)
	}
	if err := CheckWorkflowTransition(WorkflowReadyForDelivery, WorkflowDelivered, actor); err != nil {
		return false, err
	}
	if len(deliveries) == 0 {
		return false, fmt.Errorf("%w: empty delivery", ErrIllegalMutation)
	}

	for _, del := range deliveries {
		idx := o.itemIndex(del.ItemID)
		if idx < 0 {
			return false, fmt.Errorf("%w: item %s not on order", ErrIllegalMutation, del.ItemID)
		}
		it := &o.Items[idx]
		if del.Quantity <= 0 {
			return false, fmt.Errorf("%w: delivery quantity %d must be positive", ErrIllegalMutation, del.Quantity)
		}
		if it.DeliveredQuantity+del.Quantity > it.Quantity {
			return false, fmt.Errorf("%w: item %s delivered %d+%d exceeds ordered %d",
				ErrIllegalMutation, it.ID, it.DeliveredQuantity, del.Quantity, it.Quantity)
		}
		it.DeliveredQuantity += del.Quantity
		if it.FullyDelivered() {
			at := now
			it.DeliveredAt = &at
			it.DeliveredBy = actor.ID
		}
	}
	o.touch(now)

	if !o.FullyDelivered() {
		return false, nil
	}
	o.Workflow = WorkflowDelivered
	return true, nil
}

// DeliverAll delivers every remaining quantity in one command.
func (o *Order) DeliverAll(actor staff.Actor, now time.Time) (bool, error) {
	deliveries := make([]Delivery, 0, len(o.Items))
	for _, it := range o.Items {
		if remaining := it.Quantity - it.DeliveredQuantity; remaining > 0 {
			deliveries = append(deliveries, Delivery{ItemID: it.ID, Quantity: remaining})
		}
	}
	if len(deliveries) == 0 {
		return false, fmt.Errorf("%w: nothing left to deliver", ErrIllegalMutation)
	}
	return o.Deliver(deliveries, actor, now)
}

func (o *Order) FullyDelivered() bool {
	for _, it := range o.Items {
		if !it.FullyDelivered() {
			return false
		}
	}
	return len(o.Items) > 0
}

// AllQuickServe reports whether every line can skip the kitchen.
func (o *Order) AllQuickServe() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, it := range o.Items {
		if !it.QuickServe {
			return false
		}
	}
	return true
}

// TransitionWorkflow applies a workflow transition after the state machine
// accepts it.
func (o *Order) TransitionWorkflow(to WorkflowStatus, actor staff.Actor, now time.Time) error {
	if err := CheckWorkflowTransition(o.Workflow, to, actor); err != nil {
		return err
	}
	o.Workflow = to
	o.touch(now)
	return nil
}

// TransitionPayment applies a payment transition after the state machine
// accepts it.
func (o *Order) TransitionPayment(to PaymentStatus, actor staff.Actor, now time.Time) error {
	if err := CheckPaymentTransition(o.Payment, to, actor); err != nil {
		return err
	}
	o.Payment = to
	o.touch(now)
	return nil
}

// RecomputeTotals reprices every line through the pricing engine and writes
// the cached monetary fields. Tip is preserved.
func (o *Order) RecomputeTotals(taxRate decimal.Decimal, mode pricing.Mode) error {
	lines := make([]pricing.LineBreakdown, 0, len(o.Items))
	for _, it := range o.Items {
		in := pricing.LineInput{Quantity: it.Quantity, UnitPrice: it.UnitPrice}
		for _, m := range it.Modifiers {
			in.Modifiers = append(in.Modifiers, pricing.ModifierInput{Quantity: m.Quantity, UnitAdjustment: m.UnitAdjustment})
		}
		line, err := pricing.LineTotal(in, taxRate, mode)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	totals, err := pricing.OrderTotals(lines, o.Tip)
	if err != nil {
		return err
	}
	o.Subtotal = totals.Subtotal
	o.Tax = totals.Tax
	o.Total = totals.Total
	return nil
}

func (o *Order) itemIndex(itemID string) int {
	for i, it := range o.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func (o *Order) touch(now time.Time) { o.UpdatedAt = now }

// Clone returns a deep copy so repository reads never alias aggregate state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = make([]Item, len(o.Items))
	for i, it := range o.Items {
		itemCopy := it
		if it.DeliveredAt != nil {
			at := *it.DeliveredAt
			itemCopy.DeliveredAt = &at
		}
		itemCopy.Modifiers = append([]ItemModifier(nil), it.Modifiers...)
		clone.Items[i] = itemCopy
	}
	return &clone
}
