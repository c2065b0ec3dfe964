// Package lifecycle is the transactional orchestrator for the order
// lifecycle. Handlers translate HTTP to these operations and nothing else;
// every state machine check, total recomputation, history append, and outbox
// enqueue happens here inside one transaction per operation.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/outbox"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"github.com/prontopos/pronto-core/internal/observability"
	"github.com/prontopos/pronto-core/internal/observability/logctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "lifecycle"
	spanPrefix  = "UC."
)

// Settings is the deployment configuration the lifecycle reads once per
// transaction. It is threaded through the constructor; nothing here reads
// the environment.
type Settings struct {
	Currency       string
	TaxRate        decimal.Decimal
	PriceMode      pricing.Mode
	TipPresets     []decimal.Decimal
	SessionTimeout time.Duration
}

type Service struct {
	store    Store
	ids      IDGenerator
	renderer ReceiptRenderer
	settings Settings
	tel      observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram

	now func() time.Time
}

// New wires the dependencies required to execute lifecycle operations.
func New(store Store, ids IDGenerator, renderer ReceiptRenderer, settings Settings, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if settings.PriceMode == "" {
		settings.PriceMode = pricing.TaxInclusive
	}
	log := tel.Logger().With(observability.F("service", serviceName))
	metrics := tel.Metrics()

	return &Service{
		store:        store,
		ids:          ids,
		renderer:     renderer,
		settings:     settings,
		tel:          tel,
		log:          log,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// TipPresets returns the configured tip percentages offered at checkout.
func (s *Service) TipPresets() []decimal.Decimal {
	return s.settings.TipPresets
}

// WithClock replaces the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// instrument opens a span and returns the completion callback that records
// the outcome on span, metrics, and log in one place.
func (s *Service) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	attrs = append(attrs, attribute.String("use_case", op))
	ctx, span := s.tel.Tracer().Start(ctx, spanPrefix+op, attrs...)
	start := time.Now()
	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", op))

	return ctx, func(err error) {
		lat := time.Since(start).Seconds()
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()

		s.reqCounter.Add(1,
			observability.L("use_case", op),
			observability.L("outcome", outcome),
		)
		s.durHistogram.Observe(lat, observability.L("use_case", op))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}
}

// recordTransition appends the history row and enqueues the matching outbox
// event in the same transaction. A nil event records history only.
func (s *Service) recordTransition(ctx context.Context, tx Tx, o *order.Order, from, to string, actor staff.Actor, reason string, event outbox.Event) error {
	if err := tx.History().Append(ctx, order.StatusChange{
		OrderID: o.ID,
		From:    from,
		To:      to,
		ActorID: actor.ID,
		Reason:  reason,
		At:      s.now(),
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if event == nil {
		return nil
	}
	env, err := outbox.Wrap(event, o.ID, o.SessionID, "", s.now())
	if err != nil {
		return err
	}
	if err := tx.Outbox().Enqueue(ctx, env); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// refreshSessionTotals reloads the session's orders and rewrites its cached
// totals inside the transaction.
func (s *Service) refreshSessionTotals(ctx context.Context, tx Tx, sessionID string) error {
	sess, err := tx.Sessions().Get(ctx, sessionID)
	if err != nil {
		return err
	}
	orders, err := tx.Orders().ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.RecomputeTotals(orders, s.now())
	return tx.Sessions().Update(ctx, sess)
}
