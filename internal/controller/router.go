package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/dispatch-engine/internal/handler"
	"github.com/unclebandit/dispatch-engine/internal/logging"
)

func NewRouter(ctrl *CampaignController, webhooks *handler.WebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Campaign routes
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/chat", ctrl.CreateChatCampaign)
		r.Post("/sms", ctrl.CreateSMSCampaign)
		r.Get("/", ctrl.ListCampaigns)
		r.Get("/{id}", ctrl.GetCampaignDetails)
		r.Delete("/{id}", ctrl.DeleteCampaign)
		r.Post("/{id}/send", ctrl.SendCampaign)
		r.Get("/{id}/reports", ctrl.GetReports)
		r.Get("/{id}/reports.xlsx", ctrl.ExportReports)
	})
	r.Get("/lists/{id}/stats", ctrl.GetListStats)
	r.Post("/reconcile", ctrl.Reconcile)

	// Status ingestion
	r.Post("/events/status", ctrl.IngestStatus)
	if webhooks != nil {
		r.Post("/webhooks/{channel}/status", webhooks.ProviderStatus)
	}

	return r
}
