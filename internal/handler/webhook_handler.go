// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

// StatusApplier is satisfied by *service.StatusIngestor.
type StatusApplier interface {
	Apply(ctx context.Context, ev model.StatusEvent) (service.IngestOutcome, error)
}

// WebhookHandler turns provider callbacks into StatusEvents.
type WebhookHandler struct {
	Ingestor StatusApplier
	log      logrus.FieldLogger
}

func NewWebhookHandler(ingestor StatusApplier) *WebhookHandler {
	return &WebhookHandler{
		Ingestor: ingestor,
		log:      logging.Component("webhook"),
	}
}

// WebhookResult is the acknowledgement body sent back to the provider.
type WebhookResult struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
	Ignored  int `json:"ignored"`
	Unknown  int `json:"unknown"`
	Rejected int `json:"rejected"`
}

// ProviderStatus handles POST /webhooks/{channel}/status.
func (h *WebhookHandler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	ch := model.Channel(strings.ToUpper(chi.URLParam(r, "channel")))

	var (
		events []model.StatusEvent
		skip   int
		err    error
	)
	switch ch {
	case model.ChannelChat:
		events, skip, err = parseChatStatuses(r)
	case model.ChannelSMS:
		events, skip, err = parseSMSReport(r)
	default:
		respond(w, http.StatusNotFound, map[string]string{"error": "unknown channel"})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("channel", ch).Warn("Malformed provider callback")
		respond(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	res := WebhookResult{Received: len(events) + skip, Ignored: skip}
	for _, ev := range events {
		outcome, err := h.Ingestor.Apply(r.Context(), ev)
		switch {
		case errors.Is(err, appErrors.ErrInvalidEvent), errors.Is(err, appErrors.ErrUnknownChannel):
			res.Rejected++
			continue
		case err != nil:
			// a 5xx makes the provider redeliver; replays are idempotent
			h.log.WithError(err).WithField("provider_message_id", ev.ProviderMessageID).Error("Failed to apply status event")
			respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		switch outcome {
		case service.IngestApplied:
			res.Applied++
		case service.IngestIgnored:
			res.Ignored++
		case service.IngestUnknown:
			res.Unknown++
		}
	}

	h.log.WithFields(logrus.Fields{
		"channel":  ch,
		"received": res.Received,
		"applied":  res.Applied,
	}).Debug("Provider callback processed")
	respond(w, http.StatusOK, res)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// chatCallback is the subset of the Cloud API webhook that carries statuses.
type chatCallback struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []chatStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type chatStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Errors    []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

var chatStatusMap = map[string]model.DeliveryStatus{
	"sent":      model.DeliverySent,
	"delivered": model.DeliveryDelivered,
	"read":      model.DeliveryRead,
	"failed":    model.DeliveryFailed,
}

// parseChatStatuses returns the mappable events and how many statuses were
// skipped because the provider state has no delivery-report equivalent.
func parseChatStatuses(r *http.Request) ([]model.StatusEvent, int, error) {
	var cb chatCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		return nil, 0, err
	}

	var events []model.StatusEvent
	skipped := 0
	for _, e := range cb.Entry {
		for _, c := range e.Changes {
			for _, s := range c.Value.Statuses {
				st, ok := chatStatusMap[strings.ToLower(s.Status)]
				if !ok {
					skipped++
					continue
				}
				ev := model.StatusEvent{
					Channel:           model.ChannelChat,
					ProviderMessageID: s.ID,
					Status:            st,
					Timestamp:         unixSeconds(s.Timestamp),
				}
				if st == model.DeliveryFailed && len(s.Errors) > 0 {
					ev.Reason = strconv.Itoa(s.Errors[0].Code) + ": " + s.Errors[0].Title
				}
				events = append(events, ev)
			}
		}
	}
	return events, skipped, nil
}

func unixSeconds(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

type smsReport struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason"`
}

var smsStatusMap = map[string]model.DeliveryStatus{
	"success":   model.DeliverySent,
	"sent":      model.DeliverySent,
	"delivered": model.DeliverySent,
	"failed":    model.DeliveryFailed,
	"rejected":  model.DeliveryFailed,
}

// parseSMSReport reads a gateway delivery report posted either as JSON or
// as a form.
func parseSMSReport(r *http.Request) ([]model.StatusEvent, int, error) {
	var rep smsReport
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
			return nil, 0, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, 0, err
		}
		rep = smsReport{
			ID:            r.PostForm.Get("id"),
			Status:        r.PostForm.Get("status"),
			FailureReason: r.PostForm.Get("failureReason"),
		}
	}
	if rep.ID == "" && rep.Status == "" {
		return nil, 0, errors.New("empty delivery report")
	}

	st, ok := smsStatusMap[strings.ToLower(rep.Status)]
	if !ok {
		return nil, 1, nil
	}
	return []model.StatusEvent{{
		Channel:           model.ChannelSMS,
		ProviderMessageID: rep.ID,
		Status:            st,
		Reason:            rep.FailureReason,
	}}, 0, nil
}
