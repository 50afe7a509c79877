package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/queue"
)

// Dispatcher is the part of the Reconciler the queue worker needs.
type Dispatcher interface {
	DispatchOne(ctx context.Context, ch model.Channel, id string, now time.Time) (*Outcome, error)
}

// Worker consumes one channel's queue and dispatches each popped campaign.
// It only ever pops from its own channel, so a chat id is never seen by the
// SMS sender.
type Worker struct {
	Channel    model.Channel
	Queue      queue.WorkQueue
	Dispatcher Dispatcher

	log     logrus.FieldLogger
	backoff time.Duration
	now     func() time.Time
}

func NewWorker(ch model.Channel, q queue.WorkQueue, d Dispatcher) *Worker {
	return &Worker{
		Channel:    ch,
		Queue:      q,
		Dispatcher: d,
		log:        logging.Component("worker").WithField("channel", ch),
		backoff:    time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start blocks, processing jobs until ctx is cancelled or the queue closes.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Worker running, waiting for campaigns...")
	for {
		id, err := w.Queue.Pop(ctx, w.Channel)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				w.log.Info("Worker stopped")
				return
			}
			w.log.WithError(err).Warn("Failed to pop from queue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		w.handle(ctx, id)
	}
}

func (w *Worker) handle(ctx context.Context, id string) {
	log := w.log.WithField("campaign_id", id)
	out, err := w.Dispatcher.DispatchOne(ctx, w.Channel, id, w.now())
	if err != nil {
		// the reconciliation scan picks the campaign up later
		log.WithError(err).Warn("Failed to dispatch queued campaign")
		return
	}
	if out == nil {
		log.Debug("Nothing to dispatch")
		return
	}
	log.WithField("status", out.Status).Info("Queued campaign processed")
}
