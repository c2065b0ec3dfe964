package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prontopos/pronto-core/internal/domain/outbox"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same outbox store serves both in-transaction enqueueing and worker polling.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type OutboxStore struct {
	q querier
}

func (s *OutboxStore) Enqueue(ctx context.Context, env outbox.Envelope) error {
	var key *string
	if env.IdempotencyKey != "" {
		key = &env.IdempotencyKey
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO outbox_events (kind, order_id, session_id, payload, idempotency_key,
			created_at, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key <> ''
		DO NOTHING`,
		env.Kind, env.OrderID, env.SessionID, env.Payload, key,
		env.CreatedAt, env.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

const envelopeColumns = `id, kind, order_id, session_id, payload, COALESCE(idempotency_key, ''),
	created_at, attempts, next_attempt_at, delivered_at, dead_at`

func (s *OutboxStore) Pending(ctx context.Context, now time.Time, limit int) ([]outbox.Envelope, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+envelopeColumns+` FROM outbox_events
		WHERE delivered_at IS NULL AND dead_at IS NULL AND next_attempt_at <= $1
		ORDER BY id LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox events: %w", err)
	}
	return scanEnvelopes(rows)
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE outbox_events SET delivered_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox event delivered: %w", err)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, attempts int, nextAttempt time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE outbox_events SET attempts = $2, next_attempt_at = $3 WHERE id = $1`,
		id, attempts, nextAttempt)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}

func (s *OutboxStore) MarkDead(ctx context.Context, id int64, at time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE outbox_events SET dead_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox event dead: %w", err)
	}
	return nil
}

func (s *OutboxStore) ListDead(ctx context.Context, limit int) ([]outbox.Envelope, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+envelopeColumns+` FROM outbox_events
		WHERE dead_at IS NOT NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead outbox events: %w", err)
	}
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows pgx.Rows) ([]outbox.Envelope, error) {
	defer rows.Close()
	var out []outbox.Envelope
	for rows.Next() {
		var env outbox.Envelope
		err := rows.Scan(&env.ID, &env.Kind, &env.OrderID, &env.SessionID, &env.Payload,
			&env.IdempotencyKey, &env.CreatedAt, &env.Attempts, &env.NextAttemptAt,
			&env.DeliveredAt, &env.DeadAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}
