package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/sender"
)

// ChannelSender dispatches a claimed campaign to its recipients.
type ChannelSender interface {
	Channel() model.Channel
	Dispatch(ctx context.Context, c *model.Campaign) (sender.Result, error)
}

// ErrorReporter receives dispatch-level failures, e.g. for error tracking.
type ErrorReporter interface {
	ReportDispatchError(err error, c *model.Campaign)
}

type nopReporter struct{}

func (nopReporter) ReportDispatchError(error, *model.Campaign) {}

// ErrClaimLost marks an outcome whose claim went stale and was taken over
// before it could be resolved.
var ErrClaimLost = errors.New("claim taken over by another dispatcher")

type ReconcilerConfig struct {
	BatchSize   int
	Concurrency int
	// ClaimTimeout > 0 lets a pass reclaim campaigns stuck in SENDING.
	ClaimTimeout time.Duration
	MaxAttempts  int
}

// Outcome is the resolution of one claimed campaign.
type Outcome struct {
	CampaignID string               `json:"campaign_id"`
	Channel    model.Channel        `json:"channel"`
	Status     model.CampaignStatus `json:"status"`
	Result     sender.Result        `json:"result"`
	Error      string               `json:"error,omitempty"`
}

// Summary is what a reconciliation pass reports back to its trigger. Errors
// counts campaigns whose claim failed in the store.
type Summary struct {
	Selected  int       `json:"selected"`
	Processed int       `json:"processed"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// Reconciler finds due campaigns, claims them and hands them to the sender
// for their channel. It keeps no state between passes.
type Reconciler struct {
	campaigns repository.CampaignRepositoryInterface
	senders   map[model.Channel]ChannelSender
	reporter  ErrorReporter
	cfg       ReconcilerConfig
	log       logrus.FieldLogger
}

func NewReconciler(campaigns repository.CampaignRepositoryInterface, senders []ChannelSender,
	cfg ReconcilerConfig, reporter ErrorReporter) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	bySender := make(map[model.Channel]ChannelSender, len(senders))
	for _, s := range senders {
		bySender[s.Channel()] = s
	}
	return &Reconciler{
		campaigns: campaigns,
		senders:   bySender,
		reporter:  reporter,
		cfg:       cfg,
		log:       logging.Component("reconciler"),
	}
}

func (r *Reconciler) staleBefore(now time.Time) *time.Time {
	if r.cfg.ClaimTimeout <= 0 {
		return nil
	}
	t := now.Add(-r.cfg.ClaimTimeout)
	return &t
}

// Reconcile runs one pass. Only a failure to read the due set is returned as
// an error; per-campaign failures are contained and counted in the summary.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	stale := r.staleBefore(now)

	due, err := r.campaigns.ListDue(ctx, now, stale, r.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list due campaigns: %w", err)
	}
	sum.Selected = len(due)
	if len(due) == 0 {
		return sum, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.cfg.Concurrency)
	)
	for _, c := range due {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			out, claimed, err := r.claimAndDispatch(ctx, c.ID, now, stale)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Errors++
				return
			}
			if !claimed {
				sum.Skipped++
				return
			}
			sum.Processed++
			if out.Status == model.CampaignCompleted {
				sum.Completed++
			} else {
				sum.Failed++
			}
			sum.Outcomes = append(sum.Outcomes, *out)
		})
	}
	wg.Wait()

	r.log.WithFields(logrus.Fields{
		"selected":  sum.Selected,
		"processed": sum.Processed,
		"completed": sum.Completed,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"errors":    sum.Errors,
	}).Info("Reconciliation pass finished")
	return sum, nil
}

// claimAndDispatch reports claimed=false when another caller owns the
// campaign. An error means the store could not be asked at all.
func (r *Reconciler) claimAndDispatch(ctx context.Context, id string, now time.Time, stale *time.Time) (*Outcome, bool, error) {
	log := r.log.WithField("campaign_id", id)

	claimedAt, ok, err := r.campaigns.Claim(ctx, id, now, stale)
	if err != nil {
		log.WithError(err).Error("Claim failed")
		return nil, false, fmt.Errorf("claim campaign %s: %w", id, err)
	}
	if !ok {
		log.Debug("Campaign claimed elsewhere, skipping")
		return nil, false, nil
	}

	c, err := r.campaigns.GetByID(ctx, id)
	if err != nil {
		// claimed but unreadable: leave it for stale recovery
		log.WithError(err).Error("Failed to load claimed campaign")
		return &Outcome{CampaignID: id, Status: model.CampaignSending, Error: err.Error()}, true, nil
	}
	return r.dispatch(ctx, c, claimedAt), true, nil
}

// dispatch runs the sender for a campaign this process has claimed and
// resolves the claim held under claimedAt. A panic inside the sender is
// treated as a failed dispatch.
func (r *Reconciler) dispatch(ctx context.Context, c *model.Campaign, claimedAt time.Time) *Outcome {
	out := &Outcome{CampaignID: c.ID, Channel: c.Channel}
	log := r.log.WithFields(logrus.Fields{"campaign_id": c.ID, "channel": c.Channel})

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("dispatch panicked: %v", p)
			}
		}()
		s, ok := r.senders[c.Channel]
		if !ok {
			return fmt.Errorf("%w: no sender for %s", appErrors.ErrUnknownChannel, c.Channel)
		}
		out.Result, err = s.Dispatch(ctx, c)
		return err
	}()

	// Resolution must land even if the pass is being cancelled.
	resolveCtx := context.WithoutCancel(ctx)
	if err == nil {
		ok, cerr := r.campaigns.Complete(resolveCtx, c.ID, claimedAt)
		switch {
		case cerr != nil:
			log.WithError(cerr).Error("Failed to mark campaign completed")
			out.Status = model.CampaignSending
			out.Error = cerr.Error()
		case !ok:
			log.Warn("Claim was taken over by another dispatcher, leaving the campaign to it")
			out.Status = model.CampaignSending
			out.Error = ErrClaimLost.Error()
		default:
			out.Status = model.CampaignCompleted
		}
		return out
	}

	out.Status = r.releaseStatus(c, err)
	out.Error = err.Error()
	log.WithError(err).WithFields(logrus.Fields{
		"attempt":  c.DispatchAttempts,
		"released": out.Status,
	}).Error("Dispatch failed")
	r.reporter.ReportDispatchError(err, c)

	ok, rerr := r.campaigns.Release(resolveCtx, c.ID, claimedAt, out.Status, err.Error())
	switch {
	case rerr != nil:
		log.WithError(rerr).Error("Failed to release campaign")
	case !ok:
		log.Warn("Claim was taken over by another dispatcher, release dropped")
		out.Status = model.CampaignSending
	}
	return out
}

func (r *Reconciler) releaseStatus(c *model.Campaign, err error) model.CampaignStatus {
	switch {
	case sender.IsFatal(err), errors.Is(err, appErrors.ErrUnknownChannel):
		return model.CampaignFailed
	case c.DispatchAttempts >= r.cfg.MaxAttempts:
		return model.CampaignFailed
	}
	return c.RetryStatus()
}

// DispatchOne claims and dispatches a campaign handed over by a channel's
// queue. Campaigns of another channel, missing ones and ones that cannot be
// claimed return a nil outcome.
func (r *Reconciler) DispatchOne(ctx context.Context, ch model.Channel, id string, now time.Time) (*Outcome, error) {
	c, err := r.campaigns.GetByID(ctx, id)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if c.Channel != ch {
		r.log.WithFields(logrus.Fields{"campaign_id": id, "queue": ch, "channel": c.Channel}).
			Warn("Campaign popped from another channel's queue, dropping")
		return nil, nil
	}
	out, claimed, err := r.claimAndDispatch(ctx, id, now, r.staleBefore(now))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	return out, nil
}

// TriggerCampaign is the manual "send now": it re-queues a campaign in a
// retryable state and dispatches it synchronously, regardless of its due time.
func (r *Reconciler) TriggerCampaign(ctx context.Context, tenantID, id string, now time.Time) (*Outcome, error) {
	c, err := loadOwned(ctx, r.campaigns, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Requeueable() {
		return nil, fmt.Errorf("%w: campaign %s is %s", appErrors.ErrNotRetryable, id, c.Status)
	}

	ok, err := r.campaigns.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s changed state", appErrors.ErrNotRetryable, id)
	}
	r.log.WithField("campaign_id", id).Info("Campaign re-queued manually")

	out, claimed, err := r.claimAndDispatch(ctx, id, now, nil)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: campaign %s was claimed by another dispatcher", appErrors.ErrNotRetryable, id)
	}
	return out, nil
}
