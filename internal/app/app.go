// Package app wires the ledger's components into one process-wide root.
package app

import (
	"context"
	"errors"
	"fmt"

	"ledger/internal/amqp"
	"ledger/internal/anomaly"
	"ledger/internal/backend"
	"ledger/internal/cache"
	"ledger/internal/classify"
	"ledger/internal/config"
	"ledger/internal/duplicate"
	"ledger/internal/events"
	"ledger/internal/forecast"
	"ledger/internal/insights"
	"ledger/internal/log"
	"ledger/internal/ports"
	"ledger/internal/recurring"
	"ledger/internal/rewards"
	"ledger/internal/services"
)

const duplicateOwners = 1000

// App owns every long-lived component. Build one per process.
type App struct {
	Config     *config.Config
	Bus        *events.Bus
	Cache      *cache.Store
	Store      backend.Store
	Audit      ports.AuditLog
	Reconciler *services.Reconciler
	Ledger     *services.LedgerService
	Aggregator *services.Aggregator
	AMQP       *amqp.Client // nil when AMQP_URL is unset

	logger   *log.Logger
	caches   *cache.Manager
	cleanup  backend.CleanupFunc
	detachMQ func()
}

// New builds the application from validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Discard()
	}
	appLog := logger.WithComponent(log.ComponentApp)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	a := &App{
		Config:  cfg,
		Bus:     events.NewBus(cfg.EventHistorySize, logger),
		Cache:   cache.NewStore(cfg.CacheDefaultTTL),
		Store:   res.Store,
		Audit:   res.Audit,
		logger:  appLog,
		cleanup: res.Cleanup,
	}

	classifier, err := loadClassifier(cfg.MerchantRulesFile)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var notifier ports.Notifier = logNotifier{logger: appLog}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.RoutingKey(amqp.NotificationKind), logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		a.AMQP = client
		a.detachMQ = amqp.AttachBus(a.Bus, client)
		notifier = amqp.NewNotifier(client)
	} else {
		appLog.Info("AMQP disabled - notifications are only logged")
	}

	dups := duplicate.NewDetector(a.Store, duplicateOwners, cfg.DuplicateCacheTTL, logger)
	a.caches = cache.NewManager(func(removed int) {
		appLog.Debug("Expired cache entries removed", "removed", removed)
	})
	a.caches.Register(a.Cache)
	a.caches.Register(dups.Cache())
	a.caches.StartCleanup(cfg.CacheCleanupInterval)

	a.Reconciler = services.NewReconciler(a.Store, a.Store, a.Bus, logger)
	a.Ledger = services.NewLedgerService(services.Deps{
		Store:           a.Store,
		Bus:             a.Bus,
		Cache:           a.Cache,
		Reconciler:      a.Reconciler,
		Duplicates:      dups,
		Anomalies:       anomaly.NewDetector(logger),
		Classifier:      classifier,
		Rewards:         rewards.NewEngine(),
		Notifier:        notifier,
		Insights:        insights.NewEngine(),
		Recurring:       recurring.NewDetector(a.Store, a.Store),
		Audit:           a.Audit,
		Logger:          logger,
		DefaultCurrency: cfg.DefaultCurrency,
	})
	a.Aggregator = services.NewAggregator(a.Ledger, forecast.NewPredictor(logger), logger)

	appLog.Info("Ledger initialized",
		"data_backend", bcfg.Type.String(),
		"audit_backend", bcfg.Audit.String(),
		"merchant_rules", classifier.Len(),
		"amqp", a.AMQP != nil)
	return a, nil
}

func loadClassifier(path string) (*classify.Classifier, error) {
	if path == "" {
		return classify.Default()
	}
	c, err := classify.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load merchant rules: %w", err)
	}
	return c, nil
}

// Close stops background cleanup and releases the backend and broker.
func (a *App) Close() error {
	if a.caches != nil {
		a.caches.Stop()
	}
	if a.detachMQ != nil {
		a.detachMQ()
	}
	var errs []error
	if a.AMQP != nil {
		errs = append(errs, a.AMQP.Close())
	}
	if a.cleanup != nil {
		errs = append(errs, a.cleanup())
	}
	return errors.Join(errs...)
}

// logNotifier stands in for a broker when none is configured.
type logNotifier struct {
	logger *log.Logger
}

func (n logNotifier) Send(ctx context.Context, ownerID string, note ports.Notification) error {
	n.logger.InfoContext(ctx, "Notification",
		log.FieldOwner, ownerID, "type", note.Type, "title", note.Title, "action_url", note.ActionURL)
	return nil
}
