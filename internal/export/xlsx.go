package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

const (
	ReportSheet  = "Reports"
	SummarySheet = "Summary"
)

var reportColumns = []string{
	"report_id", "contact_id", "list_id", "channel", "status",
	"provider_message_id", "failure_reason", "sent_at", "delivered_at", "read_at", "updated_at",
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// WriteDeliveryReport renders a campaign's delivery reports and its roll-up
// as an XLSX workbook.
func WriteDeliveryReport(w io.Writer, c *model.Campaign, reports []*model.DeliveryReport, stats model.DeliveryStats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ReportSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"D9D9D9"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}
	failedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"F4CCCC"},
			Pattern: 1,
		},
	})
	if err != nil {
		return err
	}

	for i, col := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(ReportSheet, cell, col); err != nil {
			return err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(reportColumns))
	_ = f.SetCellStyle(ReportSheet, "A1", lastCol+"1", headerStyle)
	_ = f.SetColWidth(ReportSheet, "A", lastCol, 22)
	_ = f.SetColWidth(ReportSheet, "G", "G", 40)

	for i, r := range reports {
		row := i + 2
		values := []any{
			r.ID, r.ContactID, r.ListID, string(r.Channel), string(r.Status),
			deref(r.ProviderMessageID), deref(r.FailureReason),
			formatTime(&r.SentAt), formatTime(r.DeliveredAt), formatTime(r.ReadAt), formatTime(&r.UpdatedAt),
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			if err := f.SetCellValue(ReportSheet, cell, v); err != nil {
				return err
			}
		}
		if r.Status == model.DeliveryFailed {
			_ = f.SetCellStyle(ReportSheet, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", lastCol, row), failedStyle)
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}
	summary := [][]any{
		{"campaign_id", c.ID},
		{"name", c.Name},
		{"channel", string(c.Channel)},
		{"status", string(c.Status)},
		{"sent_at", formatTime(c.SentAt)},
		{"sent", stats.Sent},
		{"delivered", stats.Delivered},
		{"read", stats.Read},
		{"failed", stats.Failed},
		{"delivery_rate", stats.DeliveryRate},
		{"read_rate", stats.ReadRate},
		{"failure_rate", stats.FailureRate},
	}
	for i, kv := range summary {
		row := i + 1
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", row), kv[1])
	}
	_ = f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(summary)), headerStyle)
	_ = f.SetColWidth(SummarySheet, "A", "B", 24)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
