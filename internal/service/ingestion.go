package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

type IngestOutcome string

const (
	IngestApplied IngestOutcome = "applied"
	// IngestIgnored covers duplicates and out-of-order events.
	IngestIgnored IngestOutcome = "ignored"
	// IngestUnknown means no report carries the provider message id (yet).
	IngestUnknown IngestOutcome = "unknown"
)

// a report can move at most three times, so this bound is never hit by
// legitimate contention
const maxAdvanceAttempts = 5

// StatusIngestor applies asynchronous provider events to delivery reports.
type StatusIngestor struct {
	Reports repository.DeliveryReportRepositoryInterface
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewStatusIngestor(reports repository.DeliveryReportRepositoryInterface) *StatusIngestor {
	return &StatusIngestor{
		Reports: reports,
		log:     logging.Component("ingestion"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *StatusIngestor) validate(ev *model.StatusEvent) error {
	ev.Channel = model.Channel(strings.ToUpper(string(ev.Channel)))
	ev.Status = model.DeliveryStatus(strings.ToUpper(string(ev.Status)))
	if !ev.Channel.Valid() {
		return fmt.Errorf("%w: %q", appErrors.ErrUnknownChannel, ev.Channel)
	}
	if strings.TrimSpace(ev.ProviderMessageID) == "" {
		return fmt.Errorf("%w: provider message id is required", appErrors.ErrInvalidEvent)
	}
	if !ev.Status.ValidFor(ev.Channel) {
		return fmt.Errorf("%w: status %q not valid for %s", appErrors.ErrInvalidEvent, ev.Status, ev.Channel)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	return nil
}

// Apply is safe to call any number of times with the same event. Transitions
// only move forward, and each one is a compare-and-set on the stored status.
func (s *StatusIngestor) Apply(ctx context.Context, ev model.StatusEvent) (IngestOutcome, error) {
	if err := s.validate(&ev); err != nil {
		return "", err
	}
	log := s.log.WithFields(logrus.Fields{
		"channel":             ev.Channel,
		"provider_message_id": ev.ProviderMessageID,
		"status":              ev.Status,
	})

	for range maxAdvanceAttempts {
		report, err := s.Reports.GetByProviderMessageID(ctx, ev.Channel, ev.ProviderMessageID)
		if err != nil {
			return "", err
		}
		if report == nil {
			log.Info("No delivery report for provider message, ignoring event")
			return IngestUnknown, nil
		}
		if !report.Status.CanAdvanceTo(ev.Status) {
			log.WithField("current", report.Status).Debug("Stale or duplicate event ignored")
			return IngestIgnored, nil
		}

		ok, err := s.Reports.AdvanceStatus(ctx, report.ID, report.Status, ev.Status, ev.Timestamp.UTC(), ev.Reason)
		if err != nil {
			return "", err
		}
		if ok {
			log.WithField("campaign_id", report.CampaignID).Debug("Delivery status advanced")
			return IngestApplied, nil
		}
		// lost a race with a concurrent event, re-read and re-check
	}
	return "", fmt.Errorf("advance %s: too much contention", ev.ProviderMessageID)
}
