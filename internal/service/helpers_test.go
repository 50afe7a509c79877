package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/sender"
)

// fakeSender records dispatches and can be told to fail or panic per campaign.
type fakeSender struct {
	ch    model.Channel
	delay time.Duration

	mu      sync.Mutex
	calls   map[string]int
	errFor  map[string]error
	panicOn map[string]bool
}

func newFakeSender(ch model.Channel) *fakeSender {
	return &fakeSender{
		ch:      ch,
		calls:   map[string]int{},
		errFor:  map[string]error{},
		panicOn: map[string]bool{},
	}
}

func (f *fakeSender) Channel() model.Channel { return f.ch }

func (f *fakeSender) Dispatch(_ context.Context, c *model.Campaign) (sender.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls[c.ID]++
	err := f.errFor[c.ID]
	boom := f.panicOn[c.ID]
	f.mu.Unlock()

	if boom {
		panic("sender blew up")
	}
	if err != nil {
		return sender.Result{}, err
	}
	return sender.Result{Recipients: 1, Sent: 1}, nil
}

func (f *fakeSender) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// failingQueue rejects every push.
type failingQueue struct{}

func (failingQueue) Push(context.Context, model.Channel, string) error {
	return errors.New("broker unreachable")
}

func (failingQueue) Pop(ctx context.Context, _ model.Channel) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (failingQueue) Close() error { return nil }

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportDispatchError(err error, _ *model.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// gatedSender blocks inside Dispatch until release is closed.
type gatedSender struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func newGatedSender(err error) *gatedSender {
	return &gatedSender{started: make(chan struct{}), release: make(chan struct{}), err: err}
}

func (g *gatedSender) Channel() model.Channel { return model.ChannelSMS }

func (g *gatedSender) Dispatch(context.Context, *model.Campaign) (sender.Result, error) {
	close(g.started)
	<-g.release
	return sender.Result{Recipients: 1}, g.err
}

// claimFailingStore is a memory store whose Claim cannot reach the database.
type claimFailingStore struct {
	*repository.MemoryStore
}

func (claimFailingStore) Claim(context.Context, string, time.Time, *time.Time) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("connection reset by peer")
}
