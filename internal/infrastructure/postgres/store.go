// Package postgres persists the order lifecycle in PostgreSQL behind the
// application's transactional store port. Row locking (SELECT ... FOR UPDATE)
// on sessions and orders provides the payment lock the domain relies on.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/outbox"
	"github.com/prontopos/pronto-core/internal/domain/session"
)

const (
	connectTimeout = 10 * time.Second
	pingRetries    = 5
)

// Connect opens a pgx pool and verifies connectivity, retrying briefly so the
// service survives a database that is still starting up.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	for i := 0; ; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if i == pingRetries {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
}

// Store implements lifecycle.Store on top of a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	out  *OutboxStore
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, out: &OutboxStore{q: pool}}
}

func (s *Store) Outbox() outbox.Store { return s.out }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", lifecycle.ErrPersistenceUnavailable, err)
	}
	t := &tx{pgtx: pgtx}
	if err := fn(ctx, t); err != nil {
		_ = pgtx.Rollback(ctx)
		return translateErr(err)
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", lifecycle.ErrPersistenceUnavailable, err)
	}
	return nil
}

// translateErr maps low-level pgx failures onto the application's port errors
// so callers never see driver types. Domain errors pass through untouched.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: %v", lifecycle.ErrLockTimeout, err)
		case "40001", "40P01": // serialization failure, deadlock
			return fmt.Errorf("%w: %v", lifecycle.ErrPersistenceUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", lifecycle.ErrLockTimeout, err)
	}
	return err
}

type tx struct {
	pgtx pgx.Tx
}

func (t *tx) Orders() order.Repository      { return &orderRepo{pgtx: t.pgtx, forUpdate: true} }
func (t *tx) Sessions() session.Repository  { return &sessionRepo{pgtx: t.pgtx, forUpdate: true} }
func (t *tx) History() lifecycle.HistoryRepo { return &historyRepo{pgtx: t.pgtx} }
func (t *tx) Outbox() outbox.Store          { return &OutboxStore{q: t.pgtx} }
func (t *tx) Menu() menu.Repository         { return &menuRepo{q: t.pgtx} }

func (t *tx) NextOrderSeq(ctx context.Context) (int, error) {
	var seq int64
	if err := t.pgtx.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next order seq: %w", err)
	}
	return int(seq), nil
}

type historyRepo struct {
	pgtx pgx.Tx
}

func (r *historyRepo) Append(ctx context.Context, ch order.StatusChange) error {
	_, err := r.pgtx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, from_status, to_status, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.OrderID, ch.From, ch.To, ch.ActorID, ch.Reason, ch.At)
	if err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

func (r *historyRepo) ListByOrder(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	rows, err := r.pgtx.Query(ctx, `
		SELECT order_id, from_status, to_status, actor_id, reason, created_at
		FROM order_status_log WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status log: %w", err)
	}
	defer rows.Close()

	var out []order.StatusChange
	for rows.Next() {
		var ch order.StatusChange
		if err := rows.Scan(&ch.OrderID, &ch.From, &ch.To, &ch.ActorID, &ch.Reason, &ch.At); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
