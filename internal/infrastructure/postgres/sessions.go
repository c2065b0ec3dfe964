package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prontopos/pronto-core/internal/domain/session"
)

type sessionRepo struct {
	pgtx      pgx.Tx
	forUpdate bool
}

const sessionColumns = `id, table_id, customer_id, status, guest_count, receipt_email,
	subtotal::text, tax::text, tip::text, total::text,
	opened_at, updated_at, closed_at, closed_by`

func (r *sessionRepo) Insert(ctx context.Context, s *session.Session) error {
	var tableID *string
	if s.TableID != "" {
		tableID = &s.TableID
	}
	_, err := r.pgtx.Exec(ctx, `
		INSERT INTO dining_sessions (id, table_id, customer_id, status, guest_count, receipt_email,
			subtotal, tax, tip, total, opened_at, updated_at, closed_at, closed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		s.ID, tableID, s.CustomerID, s.Status, s.GuestCount, s.ReceiptEmail,
		s.Subtotal.String(), s.Tax.String(), s.Tip.String(), s.Total.String(),
		s.OpenedAt, s.UpdatedAt, s.ClosedAt, s.ClosedBy)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM dining_sessions WHERE id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSession(r.pgtx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadOrderIDs(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) Update(ctx context.Context, s *session.Session) error {
	tag, err := r.pgtx.Exec(ctx, `
		UPDATE dining_sessions SET status=$2, guest_count=$3, receipt_email=$4,
			subtotal=$5, tax=$6, tip=$7, total=$8, updated_at=$9, closed_at=$10, closed_by=$11
		WHERE id = $1`,
		s.ID, s.Status, s.GuestCount, s.ReceiptEmail,
		s.Subtotal.String(), s.Tax.String(), s.Tip.String(), s.Total.String(),
		s.UpdatedAt, s.ClosedAt, s.ClosedBy)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) FindActiveByTable(ctx context.Context, tableID string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM dining_sessions
		WHERE table_id = $1 AND status IN ($2, $3)
		ORDER BY opened_at DESC LIMIT 1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSession(r.pgtx.QueryRow(ctx, query, tableID, session.StatusOpen, session.StatusAwaitingPayment))
	if err != nil {
		return nil, err
	}
	if err := r.loadOrderIDs(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) ListIdleOpen(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	rows, err := r.pgtx.Query(ctx, `SELECT `+sessionColumns+` FROM dining_sessions
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`, session.StatusOpen, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, s := range out {
		if err := r.loadOrderIDs(ctx, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// loadOrderIDs derives the session's order list from the orders table rather
// than storing it twice.
func (r *sessionRepo) loadOrderIDs(ctx context.Context, s *session.Session) error {
	rows, err := r.pgtx.Query(ctx,
		`SELECT id FROM orders WHERE session_id = $1 ORDER BY created_at`, s.ID)
	if err != nil {
		return fmt.Errorf("load session orders: %w", err)
	}
	defer rows.Close()

	s.OrderIDs = s.OrderIDs[:0]
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan session order id: %w", err)
		}
		s.OrderIDs = append(s.OrderIDs, id)
	}
	return rows.Err()
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s                         session.Session
		tableID                   *string
		subtotal, tax, tip, total string
	)
	err := row.Scan(&s.ID, &tableID, &s.CustomerID, &s.Status, &s.GuestCount, &s.ReceiptEmail,
		&subtotal, &tax, &tip, &total,
		&s.OpenedAt, &s.UpdatedAt, &s.ClosedAt, &s.ClosedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if tableID != nil {
		s.TableID = *tableID
	}
	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{{&s.Subtotal, subtotal}, {&s.Tax, tax}, {&s.Tip, tip}, {&s.Total, total}} {
		if *p.dst, err = decimal.NewFromString(p.src); err != nil {
			return nil, fmt.Errorf("parse session amount: %w", err)
		}
	}
	return &s, nil
}
