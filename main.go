package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/config"
	"github.com/prontopos/pronto-core/internal/infrastructure/email"
	httpapi "github.com/prontopos/pronto-core/internal/infrastructure/http"
	"github.com/prontopos/pronto-core/internal/infrastructure/id"
	"github.com/prontopos/pronto-core/internal/infrastructure/memory"
	outboxworker "github.com/prontopos/pronto-core/internal/infrastructure/outbox"
	"github.com/prontopos/pronto-core/internal/infrastructure/observability/oteltrace"
	"github.com/prontopos/pronto-core/internal/infrastructure/observability/prometrics"
	"github.com/prontopos/pronto-core/internal/infrastructure/observability/telemetry"
	"github.com/prontopos/pronto-core/internal/infrastructure/observability/zaplogger"
	"github.com/prontopos/pronto-core/internal/infrastructure/postgres"
	"github.com/prontopos/pronto-core/internal/infrastructure/rabbitmq"
	"github.com/prontopos/pronto-core/internal/infrastructure/receipt"
	"github.com/prontopos/pronto-core/internal/observability"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)

	metrics := prometrics.New("pronto", "core")
	tel := telemetry.New(
		oteltrace.New(cfg.ServiceName),
		baseLogger,
		counters(metrics),
		histograms(metrics),
	)
	log := tel.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("store_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	renderer, err := receipt.NewHTMLRenderer()
	if err != nil {
		log.Error("receipt_renderer_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	svc := lifecycle.New(store, id.NewUUIDGenerator(), renderer, lifecycle.Settings{
		Currency:       cfg.Currency,
		TaxRate:        cfg.TaxRate,
		PriceMode:      cfg.PriceMode,
		TipPresets:     cfg.TipPresets,
		SessionTimeout: cfg.SessionTimeout,
	}, tel)

	sinks := map[string]outboxworker.Sink{
		"receipt_requested": outboxworker.NewReceiptSink(svc, renderer, email.NewLogSender(log)),
	}
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.Connect(cfg.AMQPURL)
		if err != nil {
			log.Error("rabbitmq_connect_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
		broadcast := outboxworker.SinkFunc(publisher.Publish)
		for _, kind := range []string{
			"order_created", "order_accepted", "order_started",
			"order_ready", "order_delivered", "order_paid",
		} {
			sinks[kind] = broadcast
		}
		log.Info("rabbitmq_connected", observability.F("exchange", rabbitmq.ExchangeName))
	}
	worker := outboxworker.NewWorker(store.Outbox(), sinks, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httpapi.NewHandler(svc, tel).Router())
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Session janitor: closes walked-away empty sessions.
	g.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				closed, err := svc.CloseExpiredSessions(ctx)
				if err != nil {
					log.Warn("session_janitor_failed", observability.F("error", err.Error()))
					continue
				}
				if closed > 0 {
					log.Info("sessions_auto_closed", observability.F("count", closed))
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("service_stopped", observability.F("error", err.Error()))
		os.Exit(1)
	}
	log.Info("service_stopped")
}

// openStore selects PostgreSQL when DATABASE_URL is set and falls back to the
// in-memory store seeded with the demo menu otherwise.
func openStore(ctx context.Context, cfg *config.Config, log observability.Logger) (lifecycle.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("store_memory_demo_mode")
		return memory.NewStore(memory.DemoMenu()), func() {}, nil
	}
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("store_postgres_connected")
	return postgres.NewStore(pool), pool.Close, nil
}

func counters(reg prometrics.Registry) map[observability.MetricKey]observability.Counter {
	return map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(string(observability.MUsecaseRequests),
			"Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: reg.Counter(string(observability.MHTTPRequests),
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MOutboxDispatched: reg.Counter(string(observability.MOutboxDispatched),
			"Outbox dispatch attempts by outcome.", "kind", "outcome"),
		observability.MOutboxDead: reg.Counter(string(observability.MOutboxDead),
			"Outbox envelopes parked in the dead-letter state.", "kind"),
	}
}

func histograms(reg prometrics.Registry) map[observability.MetricKey]observability.Histogram {
	return map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.", prometheus.DefBuckets, "use_case"),
		observability.MHTTPRequestDuration: reg.Histogram(string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.", prometheus.DefBuckets, "method", "route", "status"),
		observability.MOutboxDuration: reg.Histogram(string(observability.MOutboxDuration),
			"Duration of outbox dispatches in seconds.", prometheus.DefBuckets, "kind"),
	}
}
