// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/queue"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

// CampaignService admits new campaigns and serves the campaign read side.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	// Queue may be nil, in which case dispatch relies on the reconciliation scan.
	Queue       queue.WorkQueue
	PushTimeout time.Duration
	Aggregator  *Aggregator

	log logrus.FieldLogger
}

func NewCampaignService(campaigns repository.CampaignRepositoryInterface, q queue.WorkQueue,
	pushTimeout time.Duration, agg *Aggregator) *CampaignService {
	return &CampaignService{
		CampaignRepo: campaigns,
		Queue:        q,
		PushTimeout:  pushTimeout,
		Aggregator:   agg,
		log:          logging.Component("admission"),
	}
}

type CreateCampaignRequest struct {
	TenantID     string            `json:"-"`
	Name         string            `json:"name"`
	ListIDs      []string          `json:"list_ids"`
	ScheduledAt  *string           `json:"scheduled_at,omitempty"`
	Body         string            `json:"body,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	MediaURL     string            `json:"media_url,omitempty"`
	GatewayID    string            `json:"gateway_id,omitempty"`
}

type AdmissionResult struct {
	CampaignID string               `json:"campaign_id"`
	Status     model.CampaignStatus `json:"status"`
	Message    string               `json:"message"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats model.DeliveryStats `json:"stats"`
}

func (s *CampaignService) logger() logrus.FieldLogger {
	if s.log == nil {
		s.log = logging.Component("admission")
	}
	return s.log
}

func validate(ch model.Channel, req CreateCampaignRequest) (*time.Time, error) {
	if !ch.Valid() {
		return nil, appErrors.NewValidation("channel", fmt.Sprintf("unsupported channel %q", ch))
	}
	if len(req.ListIDs) == 0 {
		return nil, appErrors.NewValidation("list_ids", "at least one recipient list is required")
	}
	for _, id := range req.ListIDs {
		if strings.TrimSpace(id) == "" {
			return nil, appErrors.NewValidation("list_ids", "list ids must not be blank")
		}
	}

	switch ch {
	case model.ChannelSMS:
		if strings.TrimSpace(req.Body) == "" {
			return nil, appErrors.NewValidation("body", "message body is required for SMS")
		}
	case model.ChannelChat:
		if strings.TrimSpace(req.TemplateID) == "" {
			return nil, appErrors.NewValidation("template_id", "template id is required for chat campaigns")
		}
		if req.TemplateVars == nil {
			return nil, appErrors.NewValidation("template_vars", "template variable bindings are required for chat campaigns")
		}
	}

	if req.ScheduledAt == nil || strings.TrimSpace(*req.ScheduledAt) == "" {
		return nil, nil
	}
	// parse scheduledAt string into time.Time
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ScheduledAt))
	if err != nil {
		return nil, appErrors.NewValidation("scheduled_at", "must be an RFC3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// CreateCampaign validates and persists a campaign for one channel. Immediate
// campaigns are pushed onto the channel's queue after the insert; a failed
// push is logged and left to the reconciliation scan.
func (s *CampaignService) CreateCampaign(ctx context.Context, ch model.Channel, req CreateCampaignRequest) (*AdmissionResult, error) {
	scheduledAt, err := validate(ch, req)
	if err != nil {
		return nil, err
	}

	c := &model.Campaign{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Name:        req.Name,
		Channel:     ch,
		Status:      model.CampaignQueued,
		ListIDs:     req.ListIDs,
		Body:        req.Body,
		ScheduledAt: scheduledAt,
	}
	switch ch {
	case model.ChannelChat:
		c.TemplateID = req.TemplateID
		c.TemplateVars = req.TemplateVars
		c.MediaURL = req.MediaURL
	case model.ChannelSMS:
		c.GatewayID = req.GatewayID
	}
	if scheduledAt != nil {
		c.Status = model.CampaignScheduled
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("persist campaign: %w", err)
	}

	log := s.logger().WithFields(logrus.Fields{"campaign_id": c.ID, "channel": ch})
	if scheduledAt != nil {
		log.WithField("scheduled_at", scheduledAt).Info("Campaign scheduled")
		return &AdmissionResult{
			CampaignID: c.ID,
			Status:     c.Status,
			Message:    "scheduled for " + scheduledAt.Format(time.RFC3339),
		}, nil
	}

	s.push(ctx, log, c)
	log.Info("Campaign queued")
	return &AdmissionResult{
		CampaignID: c.ID,
		Status:     c.Status,
		Message:    "queued for immediate send",
	}, nil
}

func (s *CampaignService) push(ctx context.Context, log logrus.FieldLogger, c *model.Campaign) {
	if s.Queue == nil {
		return
	}
	timeout := s.PushTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Queue.Push(pushCtx, c.Channel, c.ID); err != nil {
		log.WithError(err).Warn("Queue push failed, campaign will be picked up by the reconciliation scan")
	}
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID string, page, pageSize int, channel, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, repository.CampaignFilter{
		TenantID: tenantID,
		Channel:  model.Channel(strings.ToUpper(channel)),
		Status:   model.CampaignStatus(strings.ToUpper(status)),
		Offset:   offset,
		Limit:    pageSize,
	})
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails returns the campaign together with its delivery roll-up.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, tenantID, id string) (*CampaignDetails, error) {
	c, err := loadOwned(ctx, s.CampaignRepo, tenantID, id)
	if err != nil {
		return nil, err
	}
	details := &CampaignDetails{Campaign: c}
	if s.Aggregator != nil {
		stats, err := s.Aggregator.CountsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		details.Stats = stats
	}
	return details, nil
}

// DeleteCampaign removes a campaign and every delivery report it owns.
func (s *CampaignService) DeleteCampaign(ctx context.Context, tenantID, id string) error {
	if _, err := loadOwned(ctx, s.CampaignRepo, tenantID, id); err != nil {
		return err
	}
	if err := s.CampaignRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger().WithField("campaign_id", id).Info("Campaign deleted")
	return nil
}
