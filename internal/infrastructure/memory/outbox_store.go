package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/outbox"
)

// OutboxStore keeps envelopes in id order with its own lock so the dispatch
// worker can poll while lifecycle transactions run.
type OutboxStore struct {
	mu        sync.Mutex
	nextID    int64
	envelopes []*outbox.Envelope
	byKey     map[string]int64
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{byKey: make(map[string]int64)}
}

func (s *OutboxStore) Enqueue(ctx context.Context, env outbox.Envelope) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.IdempotencyKey != "" {
		if _, exists := s.byKey[env.IdempotencyKey]; exists {
			return nil
		}
	}
	s.nextID++
	env.ID = s.nextID
	s.envelopes = append(s.envelopes, &env)
	if env.IdempotencyKey != "" {
		s.byKey[env.IdempotencyKey] = env.ID
	}
	return nil
}

func (s *OutboxStore) hasKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[key]
	return ok
}

func (s *OutboxStore) Pending(ctx context.Context, now time.Time, limit int) ([]outbox.Envelope, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []outbox.Envelope
	for _, env := range s.envelopes {
		if env.DeliveredAt != nil || env.DeadAt != nil {
			continue
		}
		if env.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.find(id)
	if err != nil {
		return err
	}
	env.DeliveredAt = &at
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, attempts int, nextAttempt time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.find(id)
	if err != nil {
		return err
	}
	env.Attempts = attempts
	env.NextAttemptAt = nextAttempt
	return nil
}

func (s *OutboxStore) MarkDead(ctx context.Context, id int64, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.find(id)
	if err != nil {
		return err
	}
	env.DeadAt = &at
	return nil
}

func (s *OutboxStore) ListDead(ctx context.Context, limit int) ([]outbox.Envelope, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []outbox.Envelope
	for _, env := range s.envelopes {
		if env.DeadAt == nil {
			continue
		}
		out = append(out, *env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *OutboxStore) find(id int64) (*outbox.Envelope, error) {
	for _, env := range s.envelopes {
		if env.ID == id {
			return env, nil
		}
	}
	return nil, fmt.Errorf("memory: outbox envelope %d not found", id)
}
