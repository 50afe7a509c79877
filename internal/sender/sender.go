package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/unclebandit/dispatch-engine/internal/config"
	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

// Result summarises one campaign dispatch.
type Result struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

type Options struct {
	Workers    int
	RatePerSec int
}

// Sender fans a claimed campaign out to its recipients through one provider.
// Every attempted recipient ends up with exactly one delivery report.
type Sender struct {
	channel  model.Channel
	provider Provider
	contacts repository.ContactRepositoryInterface
	reports  repository.DeliveryReportRepositoryInterface
	limiter  *rate.Limiter
	workers  int
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(ch model.Channel, provider Provider, contacts repository.ContactRepositoryInterface,
	reports repository.DeliveryReportRepositoryInterface, opts Options) *Sender {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = opts.RatePerSec
	}
	return &Sender{
		channel:  ch,
		provider: provider,
		contacts: contacts,
		reports:  reports,
		limiter:  rate.NewLimiter(limit, burst),
		workers:  workers,
		log:      logging.Component("sender").WithField("channel", ch),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func NewChatSender(cfg *config.Config, contacts repository.ContactRepositoryInterface,
	reports repository.DeliveryReportRepositoryInterface) (*Sender, error) {
	return fromConfig(model.ChannelChat, cfg.Chat, cfg, contacts, reports)
}

func NewSMSSender(cfg *config.Config, contacts repository.ContactRepositoryInterface,
	reports repository.DeliveryReportRepositoryInterface) (*Sender, error) {
	return fromConfig(model.ChannelSMS, cfg.SMS, cfg, contacts, reports)
}

func fromConfig(ch model.Channel, pc config.ProviderConfig, cfg *config.Config,
	contacts repository.ContactRepositoryInterface, reports repository.DeliveryReportRepositoryInterface) (*Sender, error) {
	var provider Provider
	if pc.URL == "" {
		logging.Component("sender").WithField("channel", ch).Warn("No provider URL configured, messages are only logged")
		provider = NewLogProvider(ch)
	} else {
		wp, err := NewWebhookProvider(pc.URL, pc.Token, cfg.ProviderMaxRetry)
		if err != nil {
			return nil, err
		}
		provider = wp
	}
	return New(ch, provider, contacts, reports, Options{Workers: cfg.SenderWorkers, RatePerSec: pc.RatePerSec}), nil
}

func (s *Sender) Channel() model.Channel { return s.channel }

// Dispatch attempts every recipient of the campaign that has no report yet.
// Per-recipient provider errors become FAILED reports and do not fail the
// dispatch. A FatalError or ErrProviderUnavailable stops the remaining sends
// and is returned.
func (s *Sender) Dispatch(ctx context.Context, c *model.Campaign) (Result, error) {
	var res Result
	if c.Channel != s.channel {
		return res, fmt.Errorf("%w: %s sender cannot dispatch %s campaign", appErrors.ErrUnknownChannel, s.channel, c.Channel)
	}
	log := s.log.WithField("campaign_id", c.ID)

	recipients, err := s.contacts.ListRecipients(ctx, c.TenantID, c.ListIDs)
	if err != nil {
		return res, fmt.Errorf("resolve recipients: %w", err)
	}
	attempted, err := s.reports.AttemptedContacts(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("load attempted contacts: %w", err)
	}
	res.Recipients = len(recipients)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		abortErr error
	)
	abort := func(err error) {
		mu.Lock()
		if abortErr == nil {
			abortErr = err
		}
		mu.Unlock()
		cancel()
	}
	count := func(f func()) {
		mu.Lock()
		f()
		mu.Unlock()
	}

	jobs := make(chan model.Recipient)
	var wg sync.WaitGroup
	for range s.workers {
		wg.Go(func() {
			for r := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				outcome, err := s.sendOne(runCtx, c, r)
				if err != nil {
					abort(err)
					continue
				}
				count(func() {
					switch outcome {
					case model.DeliverySent:
						res.Sent++
					case model.DeliveryFailed:
						res.Failed++
					default:
						res.Skipped++
					}
				})
			}
		})
	}

feed:
	for _, r := range recipients {
		if attempted[r.ID] {
			count(func() { res.Skipped++ })
			continue
		}
		select {
		case jobs <- r:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if abortErr != nil {
		log.WithError(abortErr).Error("Dispatch aborted")
		return res, abortErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{
		"recipients": res.Recipients,
		"sent":       res.Sent,
		"failed":     res.Failed,
		"skipped":    res.Skipped,
	}).Info("Campaign dispatched")
	return res, nil
}

// sendOne returns the status recorded for the recipient, or "" when another
// dispatcher already recorded one. A non-nil error aborts the dispatch.
func (s *Sender) sendOne(ctx context.Context, c *model.Campaign, r model.Recipient) (model.DeliveryStatus, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	pmid, err := s.provider.Send(ctx, BuildMessage(c, r))
	if err != nil && (IsFatal(err) || errors.Is(err, ErrProviderUnavailable) || ctx.Err() != nil) {
		return "", err
	}

	report := &model.DeliveryReport{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		ContactID:  r.ID,
		ListID:     r.ListID,
		Channel:    c.Channel,
		Status:     model.DeliverySent,
		SentAt:     s.now(),
	}
	if err != nil {
		reason := err.Error()
		report.Status = model.DeliveryFailed
		report.FailureReason = &reason
	} else {
		report.ProviderMessageID = &pmid
	}

	inserted, recErr := s.reports.Record(ctx, report)
	if recErr != nil {
		return "", fmt.Errorf("record delivery report: %w", recErr)
	}
	if !inserted {
		return "", nil
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"campaign_id": c.ID, "contact_id": r.ID}).WithError(err).Warn("Recipient send failed")
	}
	return report.Status, nil
}
