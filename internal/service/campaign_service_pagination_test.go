package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

func seedPaginationStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	for i := 1; i <= 5; i++ {
		err := store.Create(context.Background(), &model.Campaign{
			ID:       fmt.Sprintf("c%d", i),
			TenantID: "t1",
			Name:     fmt.Sprintf("C%d", i),
			Channel:  model.ChannelSMS,
			Status:   model.CampaignQueued,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// another tenant's campaign must never show up
	_ = store.Create(context.Background(), &model.Campaign{ID: "c9", TenantID: "t2", Channel: model.ChannelSMS, Status: model.CampaignQueued})
	return store
}

func TestPagination(t *testing.T) {
	svc := &service.CampaignService{
		CampaignRepo: seedPaginationStore(t),
	}
	ctx := context.Background()

	pageSize := 2

	page1, pagination1, _ := svc.ListCampaigns(ctx, "t1", 1, pageSize, "", "")
	page2, _, _ := svc.ListCampaigns(ctx, "t1", 2, pageSize, "", "")

	expectedTotal := 5
	if pagination1["total_count"] != expectedTotal {
		t.Errorf("expected total_count %d, got %d", expectedTotal, pagination1["total_count"])
	}
	if pagination1["total_pages"] != 3 {
		t.Errorf("expected 3 pages, got %d", pagination1["total_pages"])
	}

	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("expected full pages, got %d and %d", len(page1), len(page2))
	}

	// Check descending order
	if page1[0].ID <= page1[1].ID {
		t.Errorf("expected descending order in page 1")
	}
	if page2[0].ID <= page2[1].ID {
		t.Errorf("expected descending order in page 2")
	}

	// Check no duplicates between pages
	if page1[1].ID == page2[0].ID {
		t.Errorf("duplicate entry between pages: %v", page1[1].ID)
	}

	page3, pagination3, _ := svc.ListCampaigns(ctx, "t1", 3, pageSize, "", "")
	if len(page3) != 1 {
		t.Errorf("expected last page to have 1 item, got %d", len(page3))
	}
	if pagination3["total_count"] != expectedTotal {
		t.Errorf("expected total_count %d, got %d", expectedTotal, pagination3["total_count"])
	}
}

func TestPaginationClampsAndFilters(t *testing.T) {
	svc := &service.CampaignService{
		CampaignRepo: seedPaginationStore(t),
	}
	ctx := context.Background()

	all, pagination, err := svc.ListCampaigns(ctx, "t1", 0, 500, "sms", "queued")
	if err != nil {
		t.Fatal(err)
	}
	if pagination["page"] != 1 || pagination["page_size"] != 100 || len(all) != 5 {
		t.Fatalf("unexpected pagination %v (%d items)", pagination, len(all))
	}

	none, _, _ := svc.ListCampaigns(ctx, "t1", 1, 10, "chat", "")
	if len(none) != 0 {
		t.Fatalf("channel filter not applied, got %d", len(none))
	}
}
