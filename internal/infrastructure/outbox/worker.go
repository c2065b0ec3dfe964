// Package outbox drains the durable event queue written by lifecycle
// transactions and dispatches each envelope to its sink.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/domain/outbox"
	"github.com/prontopos/pronto-core/internal/domain/session"
	"github.com/prontopos/pronto-core/internal/observability"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 8
	baseBackoff         = 5 * time.Second
	maxBackoff          = 10 * time.Minute
)

// Sink delivers one envelope. A return wrapped with outbox.Transient schedules
// a retry with backoff; any other error counts as a failed attempt the same
// way, and the envelope dead-letters once the attempt limit is reached.
type Sink interface {
	Dispatch(ctx context.Context, env outbox.Envelope) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, env outbox.Envelope) error

func (f SinkFunc) Dispatch(ctx context.Context, env outbox.Envelope) error { return f(ctx, env) }

// Worker polls the outbox store and routes envelopes by kind. Envelopes for
// the same order dispatch in enqueue order: when one fails, later envelopes
// for that order wait for the retry instead of overtaking it.
type Worker struct {
	store outbox.Store
	sinks map[string]Sink
	tel   observability.Observability

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	now          func() time.Time
}

type Option func(*Worker)

func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }
func WithBatchSize(n int) Option              { return func(w *Worker) { w.batchSize = n } }
func WithMaxAttempts(n int) Option            { return func(w *Worker) { w.maxAttempts = n } }
func WithClock(now func() time.Time) Option   { return func(w *Worker) { w.now = now } }

func NewWorker(store outbox.Store, sinks map[string]Sink, tel observability.Observability, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		sinks:        sinks,
		tel:          tel,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.tel.Logger().Error("outbox_drain_failed", observability.F("error", err.Error()))
			}
		}
	}
}

// Drain dispatches one batch of due envelopes.
func (w *Worker) Drain(ctx context.Context) error {
	batch, err := w.store.Pending(ctx, w.now(), w.batchSize)
	if err != nil {
		return fmt.Errorf("poll outbox: %w", err)
	}

	blocked := make(map[string]bool)
	for _, env := range batch {
		if env.OrderID != "" && blocked[env.OrderID] {
			continue
		}
		if err := w.dispatch(ctx, env); err != nil {
			if env.OrderID != "" {
				blocked[env.OrderID] = true
			}
		}
	}
	return nil
}

func (w *Worker) dispatch(ctx context.Context, env outbox.Envelope) error {
	ctx, span := w.tel.Tracer().Start(ctx, "Outbox.Dispatch",
		attribute.String("outbox.kind", env.Kind),
		attribute.Int64("outbox.id", env.ID),
	)
	defer span.End()

	start := w.now()

	sink, ok := w.sinks[env.Kind]
	if !ok {
		// No consumer configured for this kind; ack so it does not clog the
		// queue.
		return w.store.MarkDelivered(ctx, env.ID, w.now())
	}

	err := sink.Dispatch(ctx, env)
	w.tel.Metrics().Histogram(observability.MOutboxDuration).
		Observe(w.now().Sub(start).Seconds(), observability.L("kind", env.Kind))

	if err == nil {
		w.tel.Metrics().Counter(observability.MOutboxDispatched).
			Add(1, observability.L("kind", env.Kind), observability.L("outcome", "delivered"))
		return w.store.MarkDelivered(ctx, env.ID, w.now())
	}

	attempts := env.Attempts + 1
	if attempts >= w.maxAttempts {
		w.tel.Logger().Error("outbox_event_dead",
			observability.F("id", env.ID),
			observability.F("kind", env.Kind),
			observability.F("attempts", attempts),
			observability.F("error", err.Error()),
		)
		w.tel.Metrics().Counter(observability.MOutboxDead).Add(1, observability.L("kind", env.Kind))
		if markErr := w.store.MarkDead(ctx, env.ID, w.now()); markErr != nil {
			return markErr
		}
		return err
	}

	w.tel.Logger().Warn("outbox_event_retry",
		observability.F("id", env.ID),
		observability.F("kind", env.Kind),
		observability.F("attempts", attempts),
		observability.F("transient", outbox.IsTransient(err)),
		observability.F("error", err.Error()),
	)
	w.tel.Metrics().Counter(observability.MOutboxDispatched).
		Add(1, observability.L("kind", env.Kind), observability.L("outcome", "retry"))
	if markErr := w.store.MarkFailed(ctx, env.ID, attempts, w.now().Add(backoff(attempts))); markErr != nil {
		return markErr
	}
	return err
}

// backoff doubles per attempt from baseBackoff up to maxBackoff.
func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// ReceiptSink renders a session receipt and emails it to the target captured
// at payment time.
type ReceiptSink struct {
	svc      *lifecycle.Service
	renderer lifecycle.ReceiptRenderer
	sender   lifecycle.EmailSender
}

func NewReceiptSink(svc *lifecycle.Service, renderer lifecycle.ReceiptRenderer, sender lifecycle.EmailSender) *ReceiptSink {
	return &ReceiptSink{svc: svc, renderer: renderer, sender: sender}
}

func (s *ReceiptSink) Dispatch(ctx context.Context, env outbox.Envelope) error {
	var evt session.ReceiptRequestedEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return fmt.Errorf("decode receipt request: %w", err)
	}
	if evt.Target == "" {
		// Customer declined a receipt; nothing to send.
		return nil
	}

	data, err := s.svc.ReceiptDataForSession(ctx, evt.SessionID)
	if err != nil {
		return outbox.Transient(fmt.Errorf("load receipt data: %w", err))
	}
	receipt, err := s.renderer.Render(data)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}
	subject := "Your Pronto receipt"
	if data.Session.TableID != "" {
		subject = fmt.Sprintf("Your Pronto receipt (table %s)", data.Session.TableID)
	}
	return s.sender.Send(ctx, evt.Target, subject, receipt.HTML, nil)
}
