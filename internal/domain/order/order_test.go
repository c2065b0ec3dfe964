package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/domain/staff"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func burgerMenuItem() menu.Item {
	return menu.Item{
		ID:        "item-burger",
		Name:      "Hamburguesa",
		Price:     decimal.RequireFromString("85.00"),
		Available: true,
		ModifierGroups: []menu.ModifierGroup{
			{
				ID:        "grp-extras",
				Name:      "Extras",
				MaxSelect: 2,
				Modifiers: []menu.Modifier{
					{ID: "mod-queso", Name: "Queso Extra", PriceAdjustment: decimal.RequireFromString("1.50")},
					{ID: "mod-tocino", Name: "Tocino", PriceAdjustment: decimal.RequireFromString("12.00")},
				},
			},
			{
				ID:        "grp-term",
				Name:      "Término",
				MinSelect: 1,
				MaxSelect: 1,
				Required:  true,
				Modifiers: []menu.Modifier{
					{ID: "mod-medio", Name: "Medio", PriceAdjustment: decimal.Zero},
				},
			},
		},
	}
}

func drinkMenuItem() menu.Item {
	return menu.Item{
		ID:         "item-limonada",
		Name:       "Limonada",
		Price:      decimal.RequireFromString("35.00"),
		Available:  true,
		QuickServe: true,
	}
}

func termSelection() []ModifierSelection {
	return []ModifierSelection{{GroupID: "grp-term", ModifierID: "mod-medio", Quantity: 1}}
}

func TestAddItemSnapshotsMenuData(t *testing.T) {
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)

	require.NoError(t, o.AddItem("line-1", drinkMenuItem(), 2, nil, "sin hielo", testNow))
	require.Len(t, o.Items, 1)

	it := o.Items[0]
	assert.Equal(t, "Limonada", it.Name)
	assert.True(t, it.QuickServe)
	assert.True(t, it.UnitPrice.Equal(decimal.RequireFromString("35.00")))
	assert.Equal(t, "sin hielo", it.Notes)
}

func TestAddItemModifierBounds(t *testing.T) {
	tests := []struct {
		name       string
		selections []ModifierSelection
		wantErr    bool
	}{
		{
			name:       "required group satisfied",
			selections: termSelection(),
		},
		{
			name:    "required group missing",
			wantErr: true,
		},
		{
			name: "over max select",
			selections: append(termSelection(),
				ModifierSelection{GroupID: "grp-extras", ModifierID: "mod-queso", Quantity: 2},
				ModifierSelection{GroupID: "grp-extras", ModifierID: "mod-tocino", Quantity: 1},
			),
			wantErr: true,
		},
		{
			name: "unknown modifier",
			selections: append(termSelection(),
				ModifierSelection{GroupID: "grp-extras", ModifierID: "mod-nope", Quantity: 1},
			),
			wantErr: true,
		},
		{
			name: "unknown group",
			selections: append(termSelection(),
				ModifierSelection{GroupID: "grp-nope", ModifierID: "mod-queso", Quantity: 1},
			),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
			err := o.AddItem("line-1", burgerMenuItem(), 1, tt.selections, "", testNow)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrModifierViolation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAddItemOnlyWhileRequested(t *testing.T) {
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
	require.NoError(t, o.AddItem("line-1", drinkMenuItem(), 1, nil, "", testNow))
	require.NoError(t, o.TransitionWorkflow(WorkflowWaiterAccepted, actorWith(staff.ScopeWaiter), testNow))

	err := o.AddItem("line-2", drinkMenuItem(), 1, nil, "", testNow)
	assert.ErrorIs(t, err, ErrIllegalMutation)
	err = o.RemoveItem("line-1", testNow)
	assert.ErrorIs(t, err, ErrIllegalMutation)
}

func TestPartialDelivery(t *testing.T) {
	waiter := actorWith(staff.ScopeWaiter)
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
	require.NoError(t, o.AddItem("line-1", drinkMenuItem(), 3, nil, "", testNow))
	require.NoError(t, o.TransitionWorkflow(WorkflowWaiterAccepted, waiter, testNow))
	require.NoError(t, o.TransitionWorkflow(WorkflowReadyForDelivery, staff.System(), testNow))

	done, err := o.Deliver([]Delivery{{ItemID: "line-1", Quantity: 2}}, waiter, testNow)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, WorkflowReadyForDelivery, o.Workflow, "partial delivery keeps the order ready")
	assert.Equal(t, 2, o.Items[0].DeliveredQuantity)
	assert.Nil(t, o.Items[0].DeliveredAt)

	done, err = o.Deliver([]Delivery{{ItemID: "line-1", Quantity: 1}}, waiter, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, WorkflowDelivered, o.Workflow)
	require.NotNil(t, o.Items[0].DeliveredAt)
	assert.Equal(t, waiter.ID, o.Items[0].DeliveredBy)
}

func TestDeliveryBounds(t *testing.T) {
	waiter := actorWith(staff.ScopeWaiter)
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
	require.NoError(t, o.AddItem("line-1", drinkMenuItem(), 2, nil, "", testNow))
	require.NoError(t, o.TransitionWorkflow(WorkflowWaiterAccepted, waiter, testNow))
	require.NoError(t, o.TransitionWorkflow(WorkflowReadyForDelivery, staff.System(), testNow))

	_, err := o.Deliver([]Delivery{{ItemID: "line-1", Quantity: 3}}, waiter, testNow)
	assert.ErrorIs(t, err, ErrIllegalMutation, "over-delivery is rejected")

	_, err = o.Deliver([]Delivery{{ItemID: "line-1", Quantity: 0}}, waiter, testNow)
	assert.ErrorIs(t, err, ErrIllegalMutation)

	_, err = o.Deliver([]Delivery{{ItemID: "line-nope", Quantity: 1}}, waiter, testNow)
	assert.ErrorIs(t, err, ErrIllegalMutation)

	// Scope is checked before any counter moves, even for partial commands.
	_, err = o.Deliver([]Delivery{{ItemID: "line-1", Quantity: 1}}, actorWith(staff.ScopeChef), testNow)
	assert.ErrorIs(t, err, ErrInsufficientScope)
	assert.Equal(t, 0, o.Items[0].DeliveredQuantity)
}

func TestAllQuickServe(t *testing.T) {
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
	assert.False(t, o.AllQuickServe(), "empty order never auto-advances")

	require.NoError(t, o.AddItem("line-1", drinkMenuItem(), 1, nil, "", testNow))
	assert.True(t, o.AllQuickServe())

	require.NoError(t, o.AddItem("line-2", burgerMenuItem(), 1, termSelection(), "", testNow))
	assert.False(t, o.AllQuickServe(), "one kitchen item routes the whole order through the kitchen")
}

func TestRecomputeTotalsTaxInclusive(t *testing.T) {
	rate := decimal.RequireFromString("0.16")
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
	require.NoError(t, o.AddItem("line-1", burgerMenuItem(), 1, append(termSelection(),
		ModifierSelection{GroupID: "grp-extras", ModifierID: "mod-queso", Quantity: 1},
	), "", testNow))

	require.NoError(t, o.RecomputeTotals(rate, pricing.TaxInclusive))

	// 85.00 + 1.50 displayed, split as base + tax that sums back exactly.
	assert.Equal(t, "86.50", o.Total.StringFixed(2))
	assert.Equal(t, "74.57", o.Subtotal.StringFixed(2))
	assert.Equal(t, "11.93", o.Tax.StringFixed(2))
	assert.Equal(t, o.Total.StringFixed(2), o.Subtotal.Add(o.Tax).StringFixed(2))
}

func TestCloneIsDeep(t *testing.T) {
	o := New("ord-1", "ORD_20250301_001", "cust-1", "sess-1", "", testNow)
	require.NoError(t, o.AddItem("line-1", burgerMenuItem(), 1, termSelection(), "", testNow))

	c := o.Clone()
	c.Items[0].DeliveredQuantity = 1
	c.Items[0].Modifiers[0].Quantity = 9

	assert.Equal(t, 0, o.Items[0].DeliveredQuantity)
	assert.Equal(t, 1, o.Items[0].Modifiers[0].Quantity)
}
