package service

import (
	"context"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

// Aggregator computes delivery roll-ups from the report rows at read time.
type Aggregator struct {
	Campaigns repository.CampaignRepositoryInterface
	Reports   repository.DeliveryReportRepositoryInterface
}

func NewAggregator(campaigns repository.CampaignRepositoryInterface, reports repository.DeliveryReportRepositoryInterface) *Aggregator {
	return &Aggregator{Campaigns: campaigns, Reports: reports}
}

// CampaignReport is the full per-recipient view of a campaign.
type CampaignReport struct {
	Campaign *model.Campaign         `json:"campaign"`
	Reports  []*model.DeliveryReport `json:"reports"`
	Stats    model.DeliveryStats     `json:"stats"`
}

// CountsFor aggregates a campaign without checking that it exists.
func (a *Aggregator) CountsFor(ctx context.Context, campaignID string) (model.DeliveryStats, error) {
	counts, err := a.Reports.CountByStatus(ctx, campaignID)
	if err != nil {
		return model.DeliveryStats{}, err
	}
	return model.StatsFromCounts(counts), nil
}

// loadOwned fetches a campaign on behalf of a tenant. Another tenant's
// campaign is reported as not found so ids do not leak across tenants.
func loadOwned(ctx context.Context, repo repository.CampaignRepositoryInterface, tenantID, id string) (*model.Campaign, error) {
	c, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (a *Aggregator) CampaignStats(ctx context.Context, tenantID, campaignID string) (model.DeliveryStats, error) {
	if _, err := loadOwned(ctx, a.Campaigns, tenantID, campaignID); err != nil {
		return model.DeliveryStats{}, err
	}
	return a.CountsFor(ctx, campaignID)
}

// ListStats rolls up every report of the tenant's campaigns whose recipient
// was resolved through the list.
func (a *Aggregator) ListStats(ctx context.Context, tenantID, listID string) (model.DeliveryStats, error) {
	counts, err := a.Reports.CountByStatusForList(ctx, tenantID, listID)
	if err != nil {
		return model.DeliveryStats{}, err
	}
	return model.StatsFromCounts(counts), nil
}

func (a *Aggregator) Report(ctx context.Context, tenantID, campaignID string) (*CampaignReport, error) {
	c, err := loadOwned(ctx, a.Campaigns, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	reports, err := a.Reports.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	// Derive the counts from the rows just read so both halves agree.
	counts := make(map[model.DeliveryStatus]int, 4)
	for _, r := range reports {
		counts[r.Status]++
	}
	return &CampaignReport{
		Campaign: c,
		Reports:  reports,
		Stats:    model.StatsFromCounts(counts),
	}, nil
}
