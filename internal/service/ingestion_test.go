package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

func seedReport(t *testing.T, store *repository.MemoryStore, id string, ch model.Channel, pmid string) {
	t.Helper()
	_, err := store.Record(context.Background(), &model.DeliveryReport{
		ID:                id,
		CampaignID:        "c1",
		ContactID:         "k-" + id,
		Channel:           ch,
		Status:            model.DeliverySent,
		ProviderMessageID: &pmid,
		SentAt:            time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func permutations(in []model.DeliveryStatus) [][]model.DeliveryStatus {
	if len(in) <= 1 {
		return [][]model.DeliveryStatus{append([]model.DeliveryStatus{}, in...)}
	}
	var out [][]model.DeliveryStatus
	for i := range in {
		rest := make([]model.DeliveryStatus, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.DeliveryStatus{in[i]}, p...))
		}
	}
	return out
}

func TestIngestionIsMonotonicForEveryOrder(t *testing.T) {
	statuses := []model.DeliveryStatus{model.DeliverySent, model.DeliveryDelivered, model.DeliveryRead}
	for _, order := range permutations(statuses) {
		store := repository.NewMemoryStore()
		seedReport(t, store, "r1", model.ChannelChat, "wamid.1")
		ing := service.NewStatusIngestor(store)

		for _, st := range order {
			_, err := ing.Apply(context.Background(), model.StatusEvent{
				Channel:           model.ChannelChat,
				ProviderMessageID: "wamid.1",
				Status:            st,
				Timestamp:         time.Now(),
			})
			if err != nil {
				t.Fatalf("%v: %v", order, err)
			}
		}

		r, _ := store.GetByProviderMessageID(context.Background(), model.ChannelChat, "wamid.1")
		if r.Status != model.DeliveryRead {
			t.Fatalf("order %v left status %s", order, r.Status)
		}
	}
}

func TestIngestionOutcomes(t *testing.T) {
	store := repository.NewMemoryStore()
	seedReport(t, store, "r1", model.ChannelChat, "wamid.1")
	ing := service.NewStatusIngestor(store)
	ctx := context.Background()

	read := model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "wamid.1", Status: model.DeliveryRead}
	if out, _ := ing.Apply(ctx, read); out != service.IngestApplied {
		t.Fatalf("expected applied, got %s", out)
	}
	if out, _ := ing.Apply(ctx, read); out != service.IngestIgnored {
		t.Fatalf("duplicate should be ignored, got %s", out)
	}
	delivered := model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "wamid.1", Status: model.DeliveryDelivered}
	if out, _ := ing.Apply(ctx, delivered); out != service.IngestIgnored {
		t.Fatalf("late DELIVERED should be ignored, got %s", out)
	}

	unknown := model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "wamid.404", Status: model.DeliveryRead}
	out, err := ing.Apply(ctx, unknown)
	if err != nil || out != service.IngestUnknown {
		t.Fatalf("unknown id must be a no-op, got %s %v", out, err)
	}
}

func TestIngestionFailedIsTerminal(t *testing.T) {
	store := repository.NewMemoryStore()
	seedReport(t, store, "r1", model.ChannelChat, "wamid.1")
	ing := service.NewStatusIngestor(store)
	ctx := context.Background()

	_, _ = ing.Apply(ctx, model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "wamid.1", Status: model.DeliveryDelivered})
	out, err := ing.Apply(ctx, model.StatusEvent{
		Channel: model.ChannelChat, ProviderMessageID: "wamid.1", Status: model.DeliveryFailed, Reason: "131026 undeliverable",
	})
	if err != nil || out != service.IngestApplied {
		t.Fatalf("FAILED should apply after DELIVERED, got %s %v", out, err)
	}
	if out, _ := ing.Apply(ctx, model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "wamid.1", Status: model.DeliveryRead}); out != service.IngestIgnored {
		t.Fatalf("nothing leaves FAILED, got %s", out)
	}

	r, _ := store.GetByProviderMessageID(ctx, model.ChannelChat, "wamid.1")
	if r.Status != model.DeliveryFailed || r.FailureReason == nil || *r.FailureReason != "131026 undeliverable" {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestIngestionValidation(t *testing.T) {
	store := repository.NewMemoryStore()
	seedReport(t, store, "r1", model.ChannelSMS, "sms-1")
	ing := service.NewStatusIngestor(store)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   model.StatusEvent
		want error
	}{
		{"read on sms", model.StatusEvent{Channel: model.ChannelSMS, ProviderMessageID: "sms-1", Status: model.DeliveryRead}, appErrors.ErrInvalidEvent},
		{"no id", model.StatusEvent{Channel: model.ChannelSMS, Status: model.DeliveryFailed}, appErrors.ErrInvalidEvent},
		{"bogus status", model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "x", Status: "SEEN"}, appErrors.ErrInvalidEvent},
		{"bad channel", model.StatusEvent{Channel: "FAX", ProviderMessageID: "x", Status: model.DeliverySent}, appErrors.ErrUnknownChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ing.Apply(ctx, tt.ev); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// lower-case input is normalised
	out, err := ing.Apply(ctx, model.StatusEvent{Channel: "sms", ProviderMessageID: "sms-1", Status: "failed"})
	if err != nil || out != service.IngestApplied {
		t.Fatalf("expected applied, got %s %v", out, err)
	}
}

func TestIngestionConcurrentEvents(t *testing.T) {
	store := repository.NewMemoryStore()
	seedReport(t, store, "r1", model.ChannelChat, "wamid.1")
	ing := service.NewStatusIngestor(store)

	done := make(chan struct{})
	for _, st := range []model.DeliveryStatus{model.DeliveryRead, model.DeliveryDelivered, model.DeliveryRead, model.DeliveryDelivered} {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := ing.Apply(context.Background(), model.StatusEvent{Channel: model.ChannelChat, ProviderMessageID: "wamid.1", Status: st})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	for range 4 {
		<-done
	}
	r, _ := store.GetByProviderMessageID(context.Background(), model.ChannelChat, "wamid.1")
	if r.Status != model.DeliveryRead {
		t.Fatalf("expected READ, got %s", r.Status)
	}
}
