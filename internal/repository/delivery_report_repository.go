// internal/repository/delivery_report_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

type DeliveryReportRepositoryInterface interface {
	// Record inserts a report. It returns false without error when the
	// (campaign, contact) pair already has one.
	Record(ctx context.Context, r *model.DeliveryReport) (bool, error)
	AttemptedContacts(ctx context.Context, campaignID string) (map[string]bool, error)
	GetByProviderMessageID(ctx context.Context, ch model.Channel, providerMessageID string) (*model.DeliveryReport, error)
	// AdvanceStatus applies a transition only if the stored status still equals from.
	AdvanceStatus(ctx context.Context, id string, from, to model.DeliveryStatus, at time.Time, reason string) (bool, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*model.DeliveryReport, error)
	CountByStatus(ctx context.Context, campaignID string) (map[model.DeliveryStatus]int, error)
	// CountByStatusForList only counts reports of campaigns owned by tenantID.
	CountByStatusForList(ctx context.Context, tenantID, listID string) (map[model.DeliveryStatus]int, error)
}

type DeliveryReportRepository struct {
	DB *sql.DB
}

const reportColumns = `id, campaign_id, contact_id, list_id, channel, status, provider_message_id,
	failure_reason, sent_at, delivered_at, read_at, updated_at`

// unique_violation
const pqUniqueViolation = "23505"

func scanReport(row rowScanner) (*model.DeliveryReport, error) {
	var r model.DeliveryReport
	err := row.Scan(&r.ID, &r.CampaignID, &r.ContactID, &r.ListID, &r.Channel, &r.Status,
		&r.ProviderMessageID, &r.FailureReason, &r.SentAt, &r.DeliveredAt, &r.ReadAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *DeliveryReportRepository) Record(ctx context.Context, rep *model.DeliveryReport) (bool, error) {
	query := `
		INSERT INTO delivery_reports
			(id, campaign_id, contact_id, list_id, channel, status, provider_message_id, failure_reason, sent_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err := r.DB.ExecContext(ctx, query, rep.ID, rep.CampaignID, rep.ContactID, rep.ListID, rep.Channel,
		rep.Status, rep.ProviderMessageID, rep.FailureReason, rep.SentAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, nil
		}
		return false, err
	}
	rep.UpdatedAt = rep.SentAt
	return true, nil
}

func (r *DeliveryReportRepository) AttemptedContacts(ctx context.Context, campaignID string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT contact_id FROM delivery_reports WHERE campaign_id=$1`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

func (r *DeliveryReportRepository) GetByProviderMessageID(ctx context.Context, ch model.Channel, providerMessageID string) (*model.DeliveryReport, error) {
	query := `SELECT ` + reportColumns + ` FROM delivery_reports WHERE channel=$1 AND provider_message_id=$2`
	rep, err := scanReport(r.DB.QueryRowContext(ctx, query, ch, providerMessageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rep, nil
}

func (r *DeliveryReportRepository) AdvanceStatus(ctx context.Context, id string, from, to model.DeliveryStatus, at time.Time, reason string) (bool, error) {
	query := `
		UPDATE delivery_reports
		SET status=$3,
			updated_at=$4,
			delivered_at=CASE WHEN $3 IN ('DELIVERED', 'READ') THEN COALESCE(delivered_at, $4) ELSE delivered_at END,
			read_at=CASE WHEN $3 = 'READ' THEN $4 ELSE read_at END,
			failure_reason=CASE WHEN $3 = 'FAILED' THEN NULLIF($5, '') ELSE failure_reason END
		WHERE id=$1 AND status=$2
	`
	res, err := r.DB.ExecContext(ctx, query, id, from, to, at, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *DeliveryReportRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*model.DeliveryReport, error) {
	query := `SELECT ` + reportColumns + ` FROM delivery_reports WHERE campaign_id=$1 ORDER BY sent_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []*model.DeliveryReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

func (r *DeliveryReportRepository) CountByStatus(ctx context.Context, campaignID string) (map[model.DeliveryStatus]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM delivery_reports WHERE campaign_id=$1 GROUP BY status`, campaignID)
}

func (r *DeliveryReportRepository) CountByStatusForList(ctx context.Context, tenantID, listID string) (map[model.DeliveryStatus]int, error) {
	query := `
		SELECT dr.status, COUNT(*)
		FROM delivery_reports dr
		JOIN campaigns c ON c.id = dr.campaign_id
		WHERE c.tenant_id=$1 AND dr.list_id=$2
		GROUP BY dr.status
	`
	return r.countBy(ctx, query, tenantID, listID)
}

func (r *DeliveryReportRepository) countBy(ctx context.Context, query string, args ...any) (map[model.DeliveryStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.DeliveryStatus]int{}
	for rows.Next() {
		var (
			status model.DeliveryStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

var _ DeliveryReportRepositoryInterface = (*DeliveryReportRepository)(nil)
