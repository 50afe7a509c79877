// internal/controller/campaign_controller.go
package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/export"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Reconciler      *service.Reconciler
	Aggregator      *service.Aggregator
	Ingestor        *service.StatusIngestor

	// Now is overridable in tests.
	Now func() time.Time
}

func (c *CampaignController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *CampaignController) CreateChatCampaign(w http.ResponseWriter, r *http.Request) {
	c.createCampaign(w, r, model.ChannelChat)
}

func (c *CampaignController) CreateSMSCampaign(w http.ResponseWriter, r *http.Request) {
	c.createCampaign(w, r, model.ChannelSMS)
}

func (c *CampaignController) createCampaign(w http.ResponseWriter, r *http.Request, ch model.Channel) {
	var body service.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, appErrors.NewValidation("body", "invalid JSON payload"))
		return
	}
	body.TenantID = tenantFrom(r)

	res, err := c.CampaignService.CreateCampaign(r.Context(), ch, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), tenantFrom(r), page, pageSize, channel, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetails(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.DeleteCampaign(r.Context(), tenantFrom(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendCampaign is the manual trigger: dispatch now, whatever the due time.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	out, err := c.Reconciler.TriggerCampaign(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), c.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *CampaignController) Reconcile(w http.ResponseWriter, r *http.Request) {
	sum, err := c.Reconciler.Reconcile(r.Context(), c.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (c *CampaignController) GetReports(w http.ResponseWriter, r *http.Request) {
	rep, err := c.Aggregator.Report(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (c *CampaignController) ExportReports(w http.ResponseWriter, r *http.Request) {
	rep, err := c.Aggregator.Report(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDeliveryReport(&buf, rep.Campaign, rep.Reports, rep.Stats); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="campaign-%s-report.xlsx"`, rep.Campaign.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (c *CampaignController) GetListStats(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "id")
	stats, err := c.Aggregator.ListStats(r.Context(), tenantFrom(r), listID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"list_id": listID,
		"stats":   stats,
	})
}

// IngestStatus accepts an already normalised provider event.
func (c *CampaignController) IngestStatus(w http.ResponseWriter, r *http.Request) {
	var ev model.StatusEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON payload", appErrors.ErrInvalidEvent))
		return
	}
	outcome, err := c.Ingestor.Apply(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_message_id": ev.ProviderMessageID,
		"outcome":             outcome,
	})
}
