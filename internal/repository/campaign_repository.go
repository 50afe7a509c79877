package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

type CampaignFilter struct {
	TenantID string
	Channel  model.Channel
	Status   model.CampaignStatus
	Offset   int
	Limit    int
}

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, f CampaignFilter) ([]*model.Campaign, int, error)
	Delete(ctx context.Context, id string) error

	// Dispatch lifecycle
	ListDue(ctx context.Context, now time.Time, staleBefore *time.Time, limit int) ([]*model.Campaign, error)
	Claim(ctx context.Context, id string, now time.Time, staleBefore *time.Time) (claimedAt time.Time, ok bool, err error)
	Complete(ctx context.Context, id string, claimedAt time.Time) (bool, error)
	Release(ctx context.Context, id string, claimedAt time.Time, status model.CampaignStatus, lastError string) (bool, error)
	Requeue(ctx context.Context, id string) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, channel, status, list_ids, body, template_id, template_vars,
	media_url, gateway_id, scheduled_at, sent_at, claimed_at, dispatch_attempts, last_error, created_at, updated_at`

// eligibleClause selects what a reconciliation pass may claim. $2 is now,
// $3 is the stale-claim cutoff (NULL disables reclaiming SENDING rows).
const eligibleClause = `(
	status IN ('QUEUED', 'PENDING')
	OR (status = 'SCHEDULED' AND scheduled_at <= $2)
	OR (status = 'SENDING' AND $3::timestamptz IS NOT NULL AND claimed_at <= $3::timestamptz)
)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c    model.Campaign
		vars []byte
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, pq.Array(&c.ListIDs),
		&c.Body, &c.TemplateID, &vars, &c.MediaURL, &c.GatewayID,
		&c.ScheduledAt, &c.SentAt, &c.ClaimedAt, &c.DispatchAttempts, &c.LastError,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &c.TemplateVars); err != nil {
			return nil, fmt.Errorf("decode template_vars: %w", err)
		}
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CampaignPending
	}
	vars, err := json.Marshal(c.TemplateVars)
	if err != nil {
		return fmt.Errorf("encode template_vars: %w", err)
	}
	query := `
		INSERT INTO campaigns (id, tenant_id, name, channel, status, list_ids, body, template_id,
			template_vars, media_url, gateway_id, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.DB.ExecContext(ctx, query, c.ID, c.TenantID, c.Name, c.Channel, c.Status,
		pq.Array(c.ListIDs), c.Body, c.TemplateID, string(vars), c.MediaURL, c.GatewayID,
		c.ScheduledAt, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, f CampaignFilter) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if f.TenantID != "" {
		where += fmt.Sprintf(" AND tenant_id=$%d", argPos)
		args = append(args, f.TenantID)
		argPos++
	}
	if f.Channel != "" {
		where += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, f.Channel)
		argPos++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, f.Status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// Delete removes the campaign and its delivery reports in one transaction.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_reports WHERE campaign_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return tx.Commit()
}

// ====================== Dispatch lifecycle ======================

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, staleBefore *time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE ` + eligibleClause +
		` ORDER BY COALESCE(scheduled_at, created_at) ASC LIMIT $1`
	rows, err := r.DB.QueryContext(ctx, query, limit, now, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

// Claim moves an eligible campaign to SENDING. The WHERE clause repeats the
// eligibility test so only one concurrent caller gets a row back. The returned
// claimed_at is the fencing token Complete and Release must present.
func (r *CampaignRepository) Claim(ctx context.Context, id string, now time.Time, staleBefore *time.Time) (time.Time, bool, error) {
	query := `
		UPDATE campaigns
		SET status='SENDING', claimed_at=$2, sent_at=COALESCE(sent_at, $2),
			dispatch_attempts=dispatch_attempts+1, updated_at=$2
		WHERE id=$1 AND ` + eligibleClause + `
		RETURNING claimed_at`
	var claimedAt time.Time
	err := r.DB.QueryRowContext(ctx, query, id, now, staleBefore).Scan(&claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return claimedAt, true, nil
}

// Complete finishes a claim. It reports false when the claim was taken over
// by another dispatcher after going stale.
func (r *CampaignRepository) Complete(ctx context.Context, id string, claimedAt time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status='COMPLETED', claimed_at=NULL, last_error='', updated_at=NOW()
		WHERE id=$1 AND status='SENDING' AND claimed_at=$2
	`
	res, err := r.DB.ExecContext(ctx, query, id, claimedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Release hands a claimed campaign back, either to a retryable status or to
// FAILED. Like Complete it only applies while claimedAt still owns the row.
func (r *CampaignRepository) Release(ctx context.Context, id string, claimedAt time.Time, status model.CampaignStatus, lastError string) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$2, last_error=$3, claimed_at=NULL, updated_at=NOW()
		WHERE id=$1 AND status='SENDING' AND claimed_at=$4
	`
	res, err := r.DB.ExecContext(ctx, query, id, status, lastError, claimedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *CampaignRepository) Requeue(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE campaigns
		SET status='QUEUED', last_error='', updated_at=NOW(),
			dispatch_attempts=CASE WHEN status='FAILED' THEN 0 ELSE dispatch_attempts END
		WHERE id=$1 AND status IN ('PENDING', 'QUEUED', 'SCHEDULED', 'FAILED')
	`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
