package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unclebandit/dispatch-engine/internal/service"
)

type countingReconciler struct {
	calls atomic.Int32
}

func (c *countingReconciler) Reconcile(ctx context.Context, now time.Time) (service.Summary, error) {
	c.calls.Add(1)
	return service.Summary{}, nil
}

func TestNewValidatesSpec(t *testing.T) {
	tests := []struct {
		spec    string
		wantNil bool
		wantErr bool
	}{
		{"", true, false},
		{"   ", true, false},
		{"@every 30s", false, false},
		{"*/5 * * * *", false, false},
		{"every now and then", true, true},
		{"* * * * * *", true, true},
	}
	for _, tt := range tests {
		s, err := New(tt.spec, &countingReconciler{})
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error %v", tt.spec, err)
		}
		if (s == nil) != tt.wantNil {
			t.Errorf("%q: expected nil=%v, got %v", tt.spec, tt.wantNil, s)
		}
	}
}

func TestNilSchedulerIsNoop(t *testing.T) {
	var s *Scheduler
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()
}

func TestSchedulerRunsPasses(t *testing.T) {
	r := &countingReconciler{}
	s, err := New("@every 1s", r)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for r.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()

	if r.calls.Load() == 0 {
		t.Fatal("expected at least one reconcile pass")
	}
	after := r.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	if r.calls.Load() != after {
		t.Fatal("no passes should run after Stop")
	}
}
