// Package memory backs the persistence port with in-process maps. It serves
// the test suite and the standalone demo mode; transaction atomicity comes
// from buffering writes until the transaction function returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/outbox"
	"github.com/prontopos/pronto-core/internal/domain/session"
)

type Store struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	sessions map[string]*session.Session
	history  map[string][]order.StatusChange
	menu     *menu.Snapshot
	outbox   *OutboxStore
	orderSeq int
}

func NewStore(snap *menu.Snapshot) *Store {
	return &Store{
		orders:   make(map[string]*order.Order),
		sessions: make(map[string]*session.Session),
		history:  make(map[string][]order.StatusChange),
		menu:     snap,
		outbox:   NewOutboxStore(),
	}
}

// WithinTx serializes lifecycle transactions behind one mutex, which makes
// the per-session lock boundary trivially true. Writes buffer in the tx and
// merge only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		store:           s,
		pendingOrders:   make(map[string]*order.Order),
		pendingSessions: make(map[string]*session.Session),
		pendingHistory:  make(map[string][]order.StatusChange),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) Outbox() outbox.Store { return s.outbox }

type tx struct {
	store           *Store
	pendingOrders   map[string]*order.Order
	pendingSessions map[string]*session.Session
	pendingHistory  map[string][]order.StatusChange
	pendingOutbox   []outbox.Envelope
}

func (t *tx) commit() {
	for id, o := range t.pendingOrders {
		t.store.orders[id] = o
	}
	for id, sess := range t.pendingSessions {
		t.store.sessions[id] = sess
	}
	for id, changes := range t.pendingHistory {
		t.store.history[id] = append(t.store.history[id], changes...)
	}
	for _, env := range t.pendingOutbox {
		_ = t.store.outbox.Enqueue(context.Background(), env)
	}
}

func (t *tx) Orders() order.Repository       { return (*orderRepo)(t) }
func (t *tx) Sessions() session.Repository   { return (*sessionRepo)(t) }
func (t *tx) History() lifecycle.HistoryRepo { return (*historyRepo)(t) }
func (t *tx) Outbox() outbox.Store           { return (*txOutbox)(t) }
func (t *tx) Menu() menu.Repository          { return (*menuRepo)(t) }

type menuRepo tx

func (r *menuRepo) Snapshot(ctx context.Context) (*menu.Snapshot, error) {
	_ = ctx
	if r.store.menu == nil {
		return nil, fmt.Errorf("memory: no menu loaded")
	}
	return r.store.menu, nil
}

func (t *tx) NextOrderSeq(ctx context.Context) (int, error) {
	_ = ctx
	t.store.orderSeq++
	return t.store.orderSeq, nil
}

type orderRepo tx

func (r *orderRepo) Insert(ctx context.Context, o *order.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("memory: order id is required")
	}
	if _, exists := r.store.orders[o.ID]; exists {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}
	if _, exists := r.pendingOrders[o.ID]; exists {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}
	r.pendingOrders[o.ID] = o.Clone()
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*order.Order, error) {
	_ = ctx
	if o, ok := r.pendingOrders[id]; ok {
		return o.Clone(), nil
	}
	o, ok := r.store.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *orderRepo) Update(ctx context.Context, o *order.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("memory: order id is required")
	}
	_, inPending := r.pendingOrders[o.ID]
	_, inBase := r.store.orders[o.ID]
	if !inPending && !inBase {
		return order.ErrNotFound
	}
	r.pendingOrders[o.ID] = o.Clone()
	return nil
}

func (r *orderRepo) ListBySession(ctx context.Context, sessionID string) ([]*order.Order, error) {
	_ = ctx
	seen := make(map[string]bool)
	var out []*order.Order
	for id, o := range r.pendingOrders {
		if o.SessionID == sessionID {
			out = append(out, o.Clone())
			seen[id] = true
		}
	}
	for id, o := range r.store.orders {
		if o.SessionID == sessionID && !seen[id] {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type sessionRepo tx

func (r *sessionRepo) Insert(ctx context.Context, sess *session.Session) error {
	_ = ctx
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("memory: session id is required")
	}
	if _, exists := r.store.sessions[sess.ID]; exists {
		return fmt.Errorf("memory: session %s already exists", sess.ID)
	}
	r.pendingSessions[sess.ID] = sess.Clone()
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*session.Session, error) {
	_ = ctx
	if sess, ok := r.pendingSessions[id]; ok {
		return sess.Clone(), nil
	}
	sess, ok := r.store.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess.Clone(), nil
}

func (r *sessionRepo) Update(ctx context.Context, sess *session.Session) error {
	_ = ctx
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("memory: session id is required")
	}
	_, inPending := r.pendingSessions[sess.ID]
	_, inBase := r.store.sessions[sess.ID]
	if !inPending && !inBase {
		return session.ErrNotFound
	}
	r.pendingSessions[sess.ID] = sess.Clone()
	return nil
}

func (r *sessionRepo) FindActiveByTable(ctx context.Context, tableID string) (*session.Session, error) {
	_ = ctx
	for _, sess := range r.pendingSessions {
		if sess.TableID == tableID && sess.Active() {
			return sess.Clone(), nil
		}
	}
	for id, sess := range r.store.sessions {
		if _, shadowed := r.pendingSessions[id]; shadowed {
			continue
		}
		if sess.TableID == tableID && sess.Active() {
			return sess.Clone(), nil
		}
	}
	return nil, session.ErrNotFound
}

func (r *sessionRepo) ListIdleOpen(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	_ = ctx
	var out []*session.Session
	for _, sess := range r.store.sessions {
		if sess.Status == session.StatusOpen && sess.UpdatedAt.Before(cutoff) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

type historyRepo tx

func (r *historyRepo) Append(ctx context.Context, change order.StatusChange) error {
	_ = ctx
	r.pendingHistory[change.OrderID] = append(r.pendingHistory[change.OrderID], change)
	return nil
}

func (r *historyRepo) ListByOrder(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	_ = ctx
	out := append([]order.StatusChange(nil), r.store.history[orderID]...)
	out = append(out, r.pendingHistory[orderID]...)
	return out, nil
}

// txOutbox buffers enqueues until commit so that side effects of a failed
// transaction never become visible to the worker.
type txOutbox tx

func (t *txOutbox) Enqueue(ctx context.Context, env outbox.Envelope) error {
	_ = ctx
	if env.IdempotencyKey != "" {
		if t.store.outbox.hasKey(env.IdempotencyKey) {
			return nil
		}
		for _, pending := range t.pendingOutbox {
			if pending.IdempotencyKey == env.IdempotencyKey {
				return nil
			}
		}
	}
	t.pendingOutbox = append(t.pendingOutbox, env)
	return nil
}

func (t *txOutbox) Pending(ctx context.Context, now time.Time, limit int) ([]outbox.Envelope, error) {
	return t.store.outbox.Pending(ctx, now, limit)
}

func (t *txOutbox) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	return t.store.outbox.MarkDelivered(ctx, id, at)
}

func (t *txOutbox) MarkFailed(ctx context.Context, id int64, attempts int, nextAttempt time.Time) error {
	return t.store.outbox.MarkFailed(ctx, id, attempts, nextAttempt)
}

func (t *txOutbox) MarkDead(ctx context.Context, id int64, at time.Time) error {
	return t.store.outbox.MarkDead(ctx, id, at)
}

func (t *txOutbox) ListDead(ctx context.Context, limit int) ([]outbox.Envelope, error) {
	return t.store.outbox.ListDead(ctx, limit)
}
