package httpapi

import (
	"github.com/shopspring/decimal"

	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
)

// envelope is the uniform response shape. Exactly one of Data and Error is
// set.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type orderItemView struct {
	ID                string             `json:"id"`
	MenuItemID        string             `json:"menu_item_id"`
	Name              string             `json:"name"`
	Quantity          int                `json:"quantity"`
	UnitPrice         string             `json:"unit_price"`
	Notes             string             `json:"notes,omitempty"`
	Modifiers         []itemModifierView `json:"modifiers,omitempty"`
	DeliveredQuantity int                `json:"delivered_quantity"`
}

type itemModifierView struct {
	ModifierID     string `json:"modifier_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitAdjustment string `json:"unit_adjustment"`
}

type orderView struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	SessionID      string          `json:"session_id"`
	WorkflowStatus string          `json:"workflow_status"`
	PaymentStatus  string          `json:"payment_status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	Subtotal       string          `json:"subtotal"`
	Tax            string          `json:"tax"`
	Tip            string          `json:"tip"`
	Total          string          `json:"total"`
	Notes          string          `json:"notes,omitempty"`
	Items          []orderItemView `json:"items"`
	CreatedAt      string          `json:"created_at"`
}

type statusChangeView struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

type totalsView struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Tip      string `json:"tip"`
	Total    string `json:"total"`
}

func viewTotals(t pricing.Totals) totalsView {
	return totalsView{
		Subtotal: t.Subtotal.StringFixed(2),
		Tax:      t.Tax.StringFixed(2),
		Tip:      t.Tip.StringFixed(2),
		Total:    t.Total.StringFixed(2),
	}
}

func viewOrder(o *order.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		var mods []itemModifierView
		for _, m := range it.Modifiers {
			mods = append(mods, itemModifierView{
				ModifierID:     m.ModifierID,
				Name:           m.Name,
				Quantity:       m.Quantity,
				UnitAdjustment: m.UnitAdjustment.StringFixed(2),
			})
		}
		items = append(items, orderItemView{
			ID:                it.ID,
			MenuItemID:        it.MenuItemID,
			Name:              it.Name,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice.StringFixed(2),
			Notes:             it.Notes,
			Modifiers:         mods,
			DeliveredQuantity: it.DeliveredQuantity,
		})
	}
	return orderView{
		ID:             o.ID,
		Number:         o.Number,
		SessionID:      o.SessionID,
		WorkflowStatus: string(o.Workflow),
		PaymentStatus:  string(o.Payment),
		PaymentMethod:  string(o.Method),
		Subtotal:       o.Subtotal.StringFixed(2),
		Tax:            o.Tax.StringFixed(2),
		Tip:            o.Tip.StringFixed(2),
		Total:          o.Total.StringFixed(2),
		Notes:          o.Notes,
		Items:          items,
		CreatedAt:      o.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func viewHistory(changes []order.StatusChange) []statusChangeView {
	out := make([]statusChangeView, 0, len(changes))
	for _, ch := range changes {
		out = append(out, statusChangeView{
			From:    ch.From,
			To:      ch.To,
			ActorID: ch.ActorID,
			Reason:  ch.Reason,
			At:      ch.At.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

type menuModifierView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceAdjustment string `json:"price_adjustment"`
}

type menuGroupView struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	MinSelect int                `json:"min_select"`
	MaxSelect int                `json:"max_select"`
	Required  bool               `json:"required"`
	Modifiers []menuModifierView `json:"modifiers"`
}

type menuItemView struct {
	ID             string          `json:"id"`
	CategoryID     string          `json:"category_id,omitempty"`
	Name           string          `json:"name"`
	Price          string          `json:"price"`
	PrepMinutes    int             `json:"prep_minutes"`
	QuickServe     bool            `json:"quick_serve"`
	ModifierGroups []menuGroupView `json:"modifier_groups,omitempty"`
}

type menuCategoryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type menuView struct {
	Categories []menuCategoryView `json:"categories"`
	Items      []menuItemView     `json:"items"`
	TipPresets []string           `json:"tip_presets"`
}

// viewMenu exposes only available items; availability is an ordering rule.
func viewMenu(snap *menu.Snapshot, tipPresets []decimal.Decimal) menuView {
	view := menuView{Categories: make([]menuCategoryView, 0, len(snap.Categories))}
	for _, p := range tipPresets {
		view.TipPresets = append(view.TipPresets, p.String())
	}
	for _, c := range snap.Categories {
		view.Categories = append(view.Categories, menuCategoryView{ID: c.ID, Name: c.Name})
	}
	for _, it := range snap.Items {
		if !it.Available {
			continue
		}
		iv := menuItemView{
			ID:          it.ID,
			CategoryID:  it.CategoryID,
			Name:        it.Name,
			Price:       it.Price.StringFixed(2),
			PrepMinutes: it.PrepMinutes,
			QuickServe:  it.QuickServe,
		}
		for _, g := range it.ModifierGroups {
			gv := menuGroupView{
				ID:        g.ID,
				Name:      g.Name,
				MinSelect: g.MinSelect,
				MaxSelect: g.MaxSelect,
				Required:  g.Required,
				Modifiers: make([]menuModifierView, 0, len(g.Modifiers)),
			}
			for _, m := range g.Modifiers {
				gv.Modifiers = append(gv.Modifiers, menuModifierView{
					ID:              m.ID,
					Name:            m.Name,
					PriceAdjustment: m.PriceAdjustment.StringFixed(2),
				})
			}
			iv.ModifierGroups = append(iv.ModifierGroups, gv)
		}
		view.Items = append(view.Items, iv)
	}
	return view
}
