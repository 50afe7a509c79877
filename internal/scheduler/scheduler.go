// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

// Reconciler is the part of *service.Reconciler the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (service.Summary, error)
}

// Scheduler runs reconciliation passes on a cron spec. Standard five-field
// specs and descriptors such as "@every 30s" are accepted.
type Scheduler struct {
	spec       string
	reconciler Reconciler
	log        logrus.FieldLogger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec up front. An empty spec yields a nil Scheduler, which
// is safe to Start and Stop.
func New(spec string, r Reconciler) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:       spec,
		reconciler: r,
		log:        logging.Component("scheduler"),
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLog := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.runOnce(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()
	s.c, s.cancel = c, cancel
	s.log.WithField("spec", s.spec).Info("Reconcile scheduler started")
	return nil
}

// Stop cancels an in-flight pass and waits for it to return.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.cancel()
	<-s.c.Stop().Done()
	s.c, s.cancel = nil, nil
	s.log.Info("Reconcile scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	sum, err := s.reconciler.Reconcile(ctx, start.UTC())
	if err != nil {
		s.log.WithError(err).Error("Reconcile pass failed")
		return
	}
	log := s.log.WithFields(logrus.Fields{
		"selected":  sum.Selected,
		"completed": sum.Completed,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"errors":    sum.Errors,
		"took":      time.Since(start).String(),
	})
	if sum.Selected == 0 {
		log.Debug("Reconcile pass found nothing due")
		return
	}
	log.Info("Reconcile pass finished")
}
