// Package menu holds the read-mostly menu model. The lifecycle never mutates
// it; unit prices are snapshotted into order lines at creation so later menu
// edits do not affect in-flight orders.
package menu

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("menu: item not found")

type Modifier struct {
	ID              string
	Name            string
	PriceAdjustment decimal.Decimal
}

type ModifierGroup struct {
	ID        string
	Name      string
	MinSelect int
	MaxSelect int
	Required  bool
	Modifiers []Modifier
}

// Find returns the modifier with the given id within the group.
func (g ModifierGroup) Find(modifierID string) (Modifier, bool) {
	for _, m := range g.Modifiers {
		if m.ID == modifierID {
			return m, true
		}
	}
	return Modifier{}, false
}

type Item struct {
	ID             string
	Name           string
	CategoryID     string
	Price          decimal.Decimal
	PrepMinutes    int
	Available      bool
	QuickServe     bool
	ModifierGroups []ModifierGroup
}

// Group returns the modifier group with the given id on the item.
func (i Item) Group(groupID string) (ModifierGroup, bool) {
	for _, g := range i.ModifierGroups {
		if g.ID == groupID {
			return g, true
		}
	}
	return ModifierGroup{}, false
}

type Category struct {
	ID        string
	Name      string
	SortOrder int
}

// Snapshot is a point-in-time view of the menu used to validate one order.
type Snapshot struct {
	Categories []Category
	Items      []Item

	index map[string]Item
}

func NewSnapshot(categories []Category, items []Item) *Snapshot {
	s := &Snapshot{
		Categories: categories,
		Items:      items,
		index:      make(map[string]Item, len(items)),
	}
	for _, it := range items {
		s.index[it.ID] = it
	}
	return s
}

// Item looks an item up by id. Unavailable items are returned; availability is
// an ordering rule, not a lookup rule.
func (s *Snapshot) Item(id string) (Item, error) {
	it, ok := s.index[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}
