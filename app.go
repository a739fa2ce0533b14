package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appledger "github.com/Simply-Furaha/App/internal/application/ledger"
	appnotify "github.com/Simply-Furaha/App/internal/application/notification"
	appPayment "github.com/Simply-Furaha/App/internal/application/payment"
	"github.com/Simply-Furaha/App/internal/config"
	domledger "github.com/Simply-Furaha/App/internal/domain/ledger"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/infrastructure/gateway/daraja"
	"github.com/Simply-Furaha/App/internal/infrastructure/gateway/sandbox"
	"github.com/Simply-Furaha/App/internal/infrastructure/id"
	"github.com/Simply-Furaha/App/internal/infrastructure/memory"
	"github.com/Simply-Furaha/App/internal/infrastructure/notification"
	infraobs "github.com/Simply-Furaha/App/internal/infrastructure/observability"
	"github.com/Simply-Furaha/App/internal/infrastructure/observability/oteltrace"
	"github.com/Simply-Furaha/App/internal/infrastructure/observability/prometrics"
	"github.com/Simply-Furaha/App/internal/infrastructure/observability/zaplogger"
	"github.com/Simply-Furaha/App/internal/infrastructure/outbox"
	"github.com/Simply-Furaha/App/internal/infrastructure/sqlite"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/pkg/logging"
	httppresentation "github.com/Simply-Furaha/App/internal/presentation/http"
	workerpresentation "github.com/Simply-Furaha/App/internal/presentation/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const metricsNamespace = "memberpay"

// app holds the wired process. close releases what build opened.
type app struct {
	baseLogger   *zap.Logger
	systemLogger *zap.Logger
	registry     *prometheus.Registry
	db           *sql.DB
	bus          *outbox.Bus
	orchestrator *appPayment.Orchestrator
	notifier     *appnotify.Worker
	handler      *httppresentation.Handler
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	baseLogger, err := logging.NewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(baseLogger)
	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.Standard(prometrics.New(registry, metricsNamespace, ""))

	logger := zaplogger.New(baseLogger)
	tel := infraobs.New(infraobs.Options{
		Tracer:     oteltrace.New(cfg.ServiceName),
		Logger:     logger,
		Counters:   counters,
		Histograms: histograms,
	})

	a := &app{baseLogger: baseLogger, systemLogger: systemLogger, registry: registry}

	repo, store, err := a.openStores(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	gateway, err := newGateway(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	ids := id.NewUUIDGenerator()
	ledgerSvc := appledger.NewService(store, tel)

	a.bus = outbox.NewBus(tel, outbox.Options{
		EventContext: workerpresentation.EventContext(logger, tel),
	})
	a.notifier = appnotify.New(a.bus, notification.NewLogNotifier(logger), tel)

	a.orchestrator = appPayment.NewOrchestrator(appPayment.Dependencies{
		Repo:        repo,
		Gateway:     gateway,
		Reconciler:  appledger.NewReconciler(store, ids, tel),
		IDs:         ids,
		Eligibility: ledgerSvc,
		Publisher:   a.bus,
		LoopContext: workerpresentation.EventContext(logger, tel),
	}, appPayment.Config{
		Deadline:        cfg.Payment.Deadline,
		PollInterval:    cfg.Payment.PollInterval,
		QueryTimeout:    cfg.Payment.QueryTimeout,
		InitiateTimeout: cfg.Payment.InitiateTimeout,
	}, tel)

	a.handler = httppresentation.NewHandler(a.orchestrator, ledgerSvc, logger, tel)
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg *config.Config) (dompay.Repository, domledger.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		db, err := sqlite.OpenAndMigrate(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.SQLitePath, err)
		}
		a.db = db
		return sqlite.NewPaymentRepository(db), sqlite.NewLedgerStore(db), nil
	default:
		return memory.NewPaymentRepository(), memory.NewLedgerStore(), nil
	}
}

func newGateway(cfg *config.Config, logger observability.Logger) (appPayment.Gateway, error) {
	switch cfg.Gateway.Mode {
	case config.GatewayDaraja:
		d := cfg.Gateway.Daraja
		client, err := daraja.NewClient(daraja.Options{
			BaseURL:        d.BaseURL,
			ConsumerKey:    d.ConsumerKey,
			ConsumerSecret: d.ConsumerSecret,
			ShortCode:      d.ShortCode,
			PassKey:        d.PassKey,
			CallbackURL:    d.CallbackURL,
			RequestTimeout: d.RequestTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("daraja gateway: %w", err)
		}
		return client, nil
	default:
		return sandbox.New(sandbox.Options{
			SuccessRate:  cfg.Gateway.Sandbox.SuccessRate,
			PendingPolls: cfg.Gateway.Sandbox.PendingPolls,
		}), nil
	}
}

// pruneLoop deletes expired terminal requests once per retention tick.
func (a *app) pruneLoop(ctx context.Context, retention time.Duration) {
	every := retention / 4
	if every < time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.orchestrator.PruneCompleted(ctx, retention); err != nil {
				a.systemLogger.Warn("prune_failed", zap.Error(err))
			}
		}
	}
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.baseLogger != nil {
		_ = a.baseLogger.Sync()
	}
}
