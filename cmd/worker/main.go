// cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/app"
	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/scheduler"
)

var once = flag.Bool("once", false, "run a single reconciliation pass and exit")

func main() {
	flag.Parse()

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

	// For an external clock (cron job, orchestrator) that owns the schedule.
	if *once {
		sum, err := a.Reconciler.Reconcile(ctx, time.Now().UTC())
		if err != nil {
			logrus.WithError(err).Error("Reconcile pass failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"selected":  sum.Selected,
			"completed": sum.Completed,
			"failed":    sum.Failed,
		}).Info("Reconcile pass finished")
		return
	}

	sched, err := scheduler.New(cfg.ReconcileSchedule, a.Reconciler)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid reconcile schedule")
	}
	if err := sched.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to start reconcile scheduler")
	}

	var wg sync.WaitGroup
	for _, w := range a.Workers() {
		wg.Go(func() { w.Start(ctx) })
	}
	if sched == nil && a.Queue == nil {
		logrus.Warn("No reconcile schedule and no queue configured, the worker has nothing to do")
	}

	logrus.Info("Worker running, waiting for campaigns...")
	<-ctx.Done()
	logrus.Info("Shutting down worker...")
	sched.Stop()
	wg.Wait()
}
