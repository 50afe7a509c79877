package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

// InitSentry initializes Sentry for error tracking. It returns false when no
// DSN is configured, in which case reporting is a no-op.
func InitSentry(dsn, environment string) (bool, error) {
	log := logging.Component("monitoring")
	if dsn == "" {
		log.Info("SENTRY_DSN not set, error tracking disabled")
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return false, err
	}
	log.WithField("environment", environment).Info("Sentry initialized")
	return true, nil
}

// Flush waits for buffered events before shutdown.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// SentryReporter forwards dispatch-level failures to Sentry, tagged with the
// campaign they belong to.
type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter() *SentryReporter {
	return &SentryReporter{hub: sentry.CurrentHub()}
}

func (r *SentryReporter) ReportDispatchError(err error, c *model.Campaign) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "reconciler")
		if c != nil {
			scope.SetTag("campaign_id", c.ID)
			scope.SetTag("channel", string(c.Channel))
			scope.SetTag("tenant_id", c.TenantID)
			scope.SetExtra("dispatch_attempts", c.DispatchAttempts)
		}
		r.hub.CaptureException(err)
	})
}
