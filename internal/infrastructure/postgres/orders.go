package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prontopos/pronto-core/internal/domain/order"
)

type orderRepo struct {
	pgtx      pgx.Tx
	forUpdate bool
}

const orderColumns = `id, order_number, customer_id, session_id, workflow_status,
	payment_status, payment_method, payment_ref,
	subtotal::text, tax::text, tip::text, total::text,
	notes, waiter_id, chef_id, created_at, updated_at`

func (r *orderRepo) Insert(ctx context.Context, o *order.Order) error {
	_, err := r.pgtx.Exec(ctx, `
		INSERT INTO orders (id, order_number, customer_id, session_id, workflow_status,
			payment_status, payment_method, payment_ref, subtotal, tax, tip, total,
			notes, waiter_id, chef_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.Number, o.CustomerID, o.SessionID, o.Workflow,
		o.Payment, o.Method, o.PaymentRef,
		o.Subtotal.String(), o.Tax.String(), o.Tip.String(), o.Total.String(),
		o.Notes, o.WaiterID, o.ChefID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return r.insertItems(ctx, o)
}

func (r *orderRepo) insertItems(ctx context.Context, o *order.Order) error {
	for _, it := range o.Items {
		_, err := r.pgtx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, name, quantity, unit_price,
				quick_serve, notes, delivered_quantity, delivered_at, delivered_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			it.ID, o.ID, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice.String(),
			it.QuickServe, it.Notes, it.DeliveredQuantity, it.DeliveredAt, it.DeliveredBy)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		for _, m := range it.Modifiers {
			_, err := r.pgtx.Exec(ctx, `
				INSERT INTO order_item_modifiers (order_item_id, group_id, modifier_id, name, quantity, unit_adjustment)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				it.ID, m.GroupID, m.ModifierID, m.Name, m.Quantity, m.UnitAdjustment.String())
			if err != nil {
				return fmt.Errorf("insert order item modifier: %w", err)
			}
		}
	}
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(r.pgtx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*order.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepo) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.pgtx.Exec(ctx, `
		UPDATE orders SET workflow_status=$2, payment_status=$3, payment_method=$4,
			payment_ref=$5, subtotal=$6, tax=$7, tip=$8, total=$9, notes=$10,
			waiter_id=$11, chef_id=$12, updated_at=$13
		WHERE id = $1`,
		o.ID, o.Workflow, o.Payment, o.Method,
		o.PaymentRef, o.Subtotal.String(), o.Tax.String(), o.Tip.String(), o.Total.String(), o.Notes,
		o.WaiterID, o.ChefID, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	// Lines are append-only after creation; only delivery progress changes.
	for _, it := range o.Items {
		_, err := r.pgtx.Exec(ctx, `
			UPDATE order_items SET delivered_quantity=$2, delivered_at=$3, delivered_by=$4
			WHERE id = $1`,
			it.ID, it.DeliveredQuantity, it.DeliveredAt, it.DeliveredBy)
		if err != nil {
			return fmt.Errorf("update order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) ListBySession(ctx context.Context, sessionID string) ([]*order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE session_id = $1 ORDER BY created_at`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := r.pgtx.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepo) loadItems(ctx context.Context, orders []*order.Order) error {
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pgtx.Query(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price::text,
			quick_serve, notes, delivered_quantity, delivered_at, delivered_by
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	itemOwner := make(map[string]string)
	for rows.Next() {
		var (
			it      order.Item
			orderID string
			price   string
		)
		err := rows.Scan(&it.ID, &orderID, &it.MenuItemID, &it.Name, &it.Quantity, &price,
			&it.QuickServe, &it.Notes, &it.DeliveredQuantity, &it.DeliveredAt, &it.DeliveredBy)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("parse unit price: %w", err)
		}
		o := byID[orderID]
		o.Items = append(o.Items, it)
		itemOwner[it.ID] = orderID
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return r.loadModifiers(ctx, byID, itemOwner)
}

func (r *orderRepo) loadModifiers(ctx context.Context, byID map[string]*order.Order, itemOwner map[string]string) error {
	itemIDs := make([]string, 0, len(itemOwner))
	for id := range itemOwner {
		itemIDs = append(itemIDs, id)
	}
	if len(itemIDs) == 0 {
		return nil
	}

	rows, err := r.pgtx.Query(ctx, `
		SELECT order_item_id, group_id, modifier_id, name, quantity, unit_adjustment::text
		FROM order_item_modifiers WHERE order_item_id = ANY($1)`, itemIDs)
	if err != nil {
		return fmt.Errorf("load item modifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m      order.ItemModifier
			itemID string
			adj    string
		)
		if err := rows.Scan(&itemID, &m.GroupID, &m.ModifierID, &m.Name, &m.Quantity, &adj); err != nil {
			return fmt.Errorf("scan item modifier: %w", err)
		}
		if m.UnitAdjustment, err = decimal.NewFromString(adj); err != nil {
			return fmt.Errorf("parse modifier adjustment: %w", err)
		}
		o := byID[itemOwner[itemID]]
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].Modifiers = append(o.Items[i].Modifiers, m)
				break
			}
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o                         order.Order
		subtotal, tax, tip, total string
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.SessionID, &o.Workflow,
		&o.Payment, &o.Method, &o.PaymentRef,
		&subtotal, &tax, &tip, &total,
		&o.Notes, &o.WaiterID, &o.ChefID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.Tax, tax}, {&o.Tip, tip}, {&o.Total, total}} {
		if *p.dst, err = decimal.NewFromString(p.src); err != nil {
			return nil, fmt.Errorf("parse order amount: %w", err)
		}
	}
	return &o, nil
}
