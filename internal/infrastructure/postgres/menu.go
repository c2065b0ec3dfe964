package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/prontopos/pronto-core/internal/domain/menu"
)

// menuRepo reads the catalog inside the transaction. The menu is small and
// read-mostly, so one snapshot per order creation keeps validation simple.
type menuRepo struct {
	q querier
}

func (r *menuRepo) Snapshot(ctx context.Context) (*menu.Snapshot, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, name, sort_order FROM menu_categories ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("load menu categories: %w", err)
	}
	var categories []menu.Category
	for rows.Next() {
		var c menu.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan menu category: %w", err)
		}
		categories = append(categories, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := r.loadMenuItems(ctx)
	if err != nil {
		return nil, err
	}
	return menu.NewSnapshot(categories, items), nil
}

func (r *menuRepo) loadMenuItems(ctx context.Context) ([]menu.Item, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, COALESCE(category_id, ''), name, price::text, prep_minutes, available, quick_serve
		FROM menu_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load menu items: %w", err)
	}
	var items []menu.Item
	index := make(map[string]int)
	for rows.Next() {
		var (
			it    menu.Item
			price string
		)
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.Name, &price, &it.PrepMinutes, &it.Available, &it.QuickServe); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse menu price: %w", err)
		}
		index[it.ID] = len(items)
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadModifierGroups(ctx, items, index); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *menuRepo) loadModifierGroups(ctx context.Context, items []menu.Item, index map[string]int) error {
	rows, err := r.q.Query(ctx, `
		SELECT g.id, g.menu_item_id, g.name, g.min_select, g.max_select, g.required,
			m.id, m.name, m.price_adjustment::text
		FROM modifier_groups g
		LEFT JOIN modifiers m ON m.group_id = g.id
		ORDER BY g.menu_item_id, g.id, m.id`)
	if err != nil {
		return fmt.Errorf("load modifier groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g          menu.ModifierGroup
			itemID     string
			modID      *string
			modName    *string
			modAdjText *string
		)
		if err := rows.Scan(&g.ID, &itemID, &g.Name, &g.MinSelect, &g.MaxSelect, &g.Required,
			&modID, &modName, &modAdjText); err != nil {
			return fmt.Errorf("scan modifier group: %w", err)
		}
		i, ok := index[itemID]
		if !ok {
			continue
		}
		groups := items[i].ModifierGroups
		if len(groups) == 0 || groups[len(groups)-1].ID != g.ID {
			items[i].ModifierGroups = append(groups, g)
			groups = items[i].ModifierGroups
		}
		if modID == nil {
			continue
		}
		adj, err := decimal.NewFromString(*modAdjText)
		if err != nil {
			return fmt.Errorf("parse modifier adjustment: %w", err)
		}
		last := len(groups) - 1
		groups[last].Modifiers = append(groups[last].Modifiers, menu.Modifier{
			ID:              *modID,
			Name:            *modName,
			PriceAdjustment: adj,
		})
	}
	return rows.Err()
}
