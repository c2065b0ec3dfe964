package memory

import (
	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/shopspring/decimal"
)

// DemoMenu seeds the standalone demo mode with a small card so the binary
// runs end-to-end without a database.
func DemoMenu() *menu.Snapshot {
	categories := []menu.Category{
		{ID: "cat-drinks", Name: "Bebidas", SortOrder: 1},
		{ID: "cat-mains", Name: "Platos Fuertes", SortOrder: 2},
	}
	items := []menu.Item{
		{
			ID:         "item-limonada",
			Name:       "Limonada",
			CategoryID: "cat-drinks",
			Price:      decimal.RequireFromString("35.00"),
			Available:  true,
			QuickServe: true,
		},
		{
			ID:         "item-agua",
			Name:       "Agua Mineral",
			CategoryID: "cat-drinks",
			Price:      decimal.RequireFromString("25.00"),
			Available:  true,
			QuickServe: true,
		},
		{
			ID:          "item-burger",
			Name:        "Hamburguesa Pronto",
			CategoryID:  "cat-mains",
			Price:       decimal.RequireFromString("85.00"),
			PrepMinutes: 15,
			Available:   true,
			ModifierGroups: []menu.ModifierGroup{
				{
					ID:        "grp-extras",
					Name:      "Extras",
					MinSelect: 0,
					MaxSelect: 3,
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
						{ID: "mod-cocido", Name: "Bien Cocido", PriceAdjustment: decimal.Zero},
					},
				},
			},
		},
	}
	return menu.NewSnapshot(categories, items)
}
