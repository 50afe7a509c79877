package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

// seedAggregation stores 2 SENT, 1 DELIVERED, 2 READ and 1 FAILED reports:
// five recipients on the delivery track plus one failed attempt.
func seedAggregation(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	addCampaign(t, store, "c1", model.ChannelChat, model.CampaignCompleted, nil)

	statuses := []model.DeliveryStatus{
		model.DeliverySent, model.DeliverySent,
		model.DeliveryDelivered,
		model.DeliveryRead, model.DeliveryRead,
		model.DeliveryFailed,
	}
	base := time.Now()
	for i, st := range statuses {
		_, err := store.Record(context.Background(), &model.DeliveryReport{
			ID:         fmt.Sprintf("r%d", i),
			CampaignID: "c1",
			ContactID:  fmt.Sprintf("k%d", i),
			ListID:     "l1",
			Channel:    model.ChannelChat,
			Status:     st,
			SentAt:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestAggregation(t *testing.T) {
	store := seedAggregation(t)
	agg := service.NewAggregator(store, store)

	stats, err := agg.CampaignStats(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	want := model.DeliveryStats{Sent: 6, Delivered: 3, Read: 2, Failed: 1, DeliveryRate: 50, ReadRate: 66.7, FailureRate: 16.7}
	if stats != want {
		t.Fatalf("got %+v, want %+v", stats, want)
	}

	listStats, err := agg.ListStats(context.Background(), "t1", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if listStats != want {
		t.Fatalf("list roll-up %+v differs from campaign roll-up", listStats)
	}
}

func TestAggregationIsTenantScoped(t *testing.T) {
	store := seedAggregation(t)
	agg := service.NewAggregator(store, store)
	ctx := context.Background()

	if _, err := agg.CampaignStats(ctx, "t2", "c1"); !appErrors.IsNotFound(err) {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
	if _, err := agg.Report(ctx, "t2", "c1"); !appErrors.IsNotFound(err) {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
	stats, err := agg.ListStats(ctx, "t2", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if stats != (model.DeliveryStats{}) {
		t.Fatalf("another tenant's reports leaked into list stats: %+v", stats)
	}
}

func TestAggregationReport(t *testing.T) {
	store := seedAggregation(t)
	agg := service.NewAggregator(store, store)

	rep, err := agg.Report(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Reports) != 6 || rep.Reports[0].ID != "r0" {
		t.Fatalf("unexpected rows %d", len(rep.Reports))
	}
	if rep.Stats.Sent != 6 || rep.Stats.DeliveryRate != 50 {
		t.Fatalf("unexpected stats %+v", rep.Stats)
	}

	if _, err := agg.Report(context.Background(), "t1", "nope"); !appErrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAggregationReflectsIngestion(t *testing.T) {
	store := seedAggregation(t)
	agg := service.NewAggregator(store, store)
	ok, _ := store.AdvanceStatus(context.Background(), "r0", model.DeliverySent, model.DeliveryDelivered, time.Now(), "")
	if !ok {
		t.Fatal("advance failed")
	}

	stats, _ := agg.CampaignStats(context.Background(), "t1", "c1")
	if stats.Delivered != 4 || stats.Sent != 6 {
		t.Fatalf("aggregate not recomputed from rows: %+v", stats)
	}
}
