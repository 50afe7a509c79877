// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/app"
	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/controller"
	"github.com/unclebandit/dispatch-engine/internal/handler"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logging.Configure(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to bootstrap application")
	}
	defer a.Close()

	campaignController := &controller.CampaignController{
		CampaignService: a.Campaign,
		Reconciler:      a.Reconciler,
		Aggregator:      a.Aggregator,
		Ingestor:        a.Ingestor,
	}
	webhookHandler := handler.NewWebhookHandler(a.Ingestor)

	// A memory store only works when dispatch runs in this process.
	var wg sync.WaitGroup
	var sched *scheduler.Scheduler
	if cfg.StoreDriver == "memory" {
		sched, err = scheduler.New(cfg.ReconcileSchedule, a.Reconciler)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid reconcile schedule")
		}
		if err := sched.Start(ctx); err != nil {
			logrus.WithError(err).Fatal("Failed to start reconcile scheduler")
		}
		for _, w := range a.Workers() {
			wg.Go(func() { w.Start(ctx) })
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           controller.NewRouter(campaignController, webhookHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Go(func() {
		<-ctx.Done()
		logrus.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("HTTP server shutdown failed")
		}
		sched.Stop()
	})

	logrus.WithField("port", cfg.HTTPPort).Info("Server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Error("HTTP server failed")
		stop()
	}
	wg.Wait()
}
