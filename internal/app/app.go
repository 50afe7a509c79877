// internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/db"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/monitoring"
	"github.com/unclebandit/dispatch-engine/internal/queue"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/sender"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

// App holds the dependencies shared by the server and worker binaries.
type App struct {
	Config *config.Config

	DB        *sql.DB
	Campaigns repository.CampaignRepositoryInterface
	Reports   repository.DeliveryReportRepositoryInterface
	Contacts  repository.ContactRepositoryInterface

	// nil when QUEUE_DRIVER=none
	Queue queue.WorkQueue

	Senders    []*sender.Sender
	Aggregator *service.Aggregator
	Reconciler *service.Reconciler
	Campaign   *service.CampaignService
	Ingestor   *service.StatusIngestor
}

// Bootstrap connects external dependencies and builds the services.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.Component("app")
	a := &App{Config: cfg}

	switch cfg.StoreDriver {
	case "memory":
		log.Warn("Using in-memory store, data is lost on restart")
		store := repository.NewMemoryStore()
		a.Campaigns, a.Reports, a.Contacts = store, store, store.Contacts()
	default:
		conn, err := db.Open(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		a.DB = conn
		a.Campaigns = &repository.CampaignRepository{DB: conn}
		a.Reports = &repository.DeliveryReportRepository{DB: conn}
		a.Contacts = &repository.ContactRepository{DB: conn}
	}

	q, err := queue.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = q

	chat, err := sender.NewChatSender(cfg, a.Contacts, a.Reports)
	if err != nil {
		a.Close()
		return nil, err
	}
	sms, err := sender.NewSMSSender(cfg, a.Contacts, a.Reports)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Senders = []*sender.Sender{chat, sms}

	enabled, err := monitoring.InitSentry(cfg.SentryDSN, cfg.SentryEnvironment)
	if err != nil {
		log.WithError(err).Warn("Sentry initialization failed, continuing without error tracking")
	}
	var reporter service.ErrorReporter
	if enabled {
		reporter = monitoring.NewSentryReporter()
	}

	a.Aggregator = service.NewAggregator(a.Campaigns, a.Reports)
	a.Reconciler = service.NewReconciler(a.Campaigns, []service.ChannelSender{chat, sms}, service.ReconcilerConfig{
		BatchSize:    cfg.ReconcileBatchSize,
		Concurrency:  cfg.ReconcileConcurrency,
		ClaimTimeout: cfg.ClaimTimeout,
		MaxAttempts:  cfg.MaxDispatchAttempts,
	}, reporter)
	a.Campaign = service.NewCampaignService(a.Campaigns, a.Queue, cfg.QueuePushTimeout, a.Aggregator)
	a.Ingestor = service.NewStatusIngestor(a.Reports)

	log.WithField("store", cfg.StoreDriver).WithField("queue", cfg.QueueDriver).Info("Application bootstrapped")
	return a, nil
}

// Workers returns one queue consumer per channel, or none in scan-only mode.
func (a *App) Workers() []*service.Worker {
	if a.Queue == nil {
		return nil
	}
	workers := make([]*service.Worker, 0, len(a.Senders))
	for _, s := range a.Senders {
		workers = append(workers, service.NewWorker(s.Channel(), a.Queue, a.Reconciler))
	}
	return workers
}

func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	monitoring.Flush()
	return errors.Join(errs...)
}
