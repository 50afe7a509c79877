package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

func TestWriteDeliveryReport(t *testing.T) {
	pmid := "wamid.1"
	reason := "invalid number"
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	reports := []*model.DeliveryReport{
		{ID: "r1", ContactID: "k1", ListID: "l1", Channel: model.ChannelChat, Status: model.DeliveryRead, ProviderMessageID: &pmid, SentAt: now, ReadAt: &now, UpdatedAt: now},
		{ID: "r2", ContactID: "k2", ListID: "l1", Channel: model.ChannelChat, Status: model.DeliveryFailed, FailureReason: &reason, SentAt: now, UpdatedAt: now},
	}
	c := &model.Campaign{ID: "c1", Name: "Launch", Channel: model.ChannelChat, Status: model.CampaignCompleted}
	stats := model.StatsFromCounts(map[model.DeliveryStatus]int{model.DeliveryRead: 1, model.DeliveryFailed: 1})

	var buf bytes.Buffer
	if err := WriteDeliveryReport(&buf, c, reports, stats); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(ReportSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "report_id" || rows[1][5] != "wamid.1" || rows[2][6] != "invalid number" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][7] != "2025-03-01T10:00:00Z" {
		t.Fatalf("unexpected sent_at %q", rows[1][7])
	}

	sent, _ := f.GetCellValue(SummarySheet, "B6")
	rate, _ := f.GetCellValue(SummarySheet, "B10")
	if sent != "2" || rate != "50" {
		t.Fatalf("unexpected summary sent=%s delivery_rate=%s", sent, rate)
	}
}
