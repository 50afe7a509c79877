package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aniladanir/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

// OutboundMessage is one rendered per-recipient send.
type OutboundMessage struct {
	Channel      model.Channel     `json:"channel"`
	CampaignID   string            `json:"campaign_id"`
	ContactID    string            `json:"contact_id"`
	To           string            `json:"to"`
	Body         string            `json:"body,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	MediaURL     string            `json:"media_url,omitempty"`
	GatewayID    string            `json:"gateway_id,omitempty"`
}

// Provider performs the wire-level send for a single recipient.
//
// A plain error is a per-recipient failure. ErrProviderUnavailable and
// *FatalError abort the whole campaign dispatch.
type Provider interface {
	Send(ctx context.Context, msg OutboundMessage) (providerMessageID string, err error)
}

// ErrProviderUnavailable means the provider could not be reached (or kept
// answering 5xx) after all retries. The campaign is retried later.
var ErrProviderUnavailable = errors.New("provider unavailable")

// FatalError is a dispatch-level fault that retrying will not fix, such as
// rejected credentials.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal provider error: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

// WebhookProvider posts each message as JSON to a provider gateway URL.
type WebhookProvider struct {
	url        string
	token      string
	retrier    *retry.Retrier
	httpClient *http.Client
	log        logrus.FieldLogger
}

func NewWebhookProvider(url, token string, maxRetryOnFail int) (*WebhookProvider, error) {
	// initialize retrier
	retrierOpts := make([]retry.Option, 0)
	if maxRetryOnFail > 0 {
		retrierOpts = append(retrierOpts, retry.WithMaxAttemps(maxRetryOnFail))
	}
	retrier, err := retry.New(retrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("encountered error when initializing retrier: %w", err)
	}

	return &WebhookProvider{
		url:     url,
		token:   token,
		retrier: retrier,
		httpClient: &http.Client{
			Timeout: time.Second * 5,
		},
		log: logging.Component("provider"),
	}, nil
}

func (p *WebhookProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	msgLogger := p.log.WithFields(logrus.Fields{
		"campaign_id": msg.CampaignID,
		"contact_id":  msg.ContactID,
		"channel":     msg.Channel,
	})

	var (
		providerMessageID string
		sendErr           error
	)
	retryFunc := func(attempt int) (terminate bool) {
		retryLogger := msgLogger.WithField("attempt", attempt)

		resp, err := p.doRequest(ctx, msg)
		if err != nil {
			retryLogger.WithError(err).Warn("failed to send request")
			sendErr = err
			return false
		}
		defer resp.Body.Close()

		requestID := resp.Header.Get("X-Request-ID")
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			sendErr = &FatalError{Err: fmt.Errorf("provider rejected credentials (status %d)", resp.StatusCode)}
		case resp.StatusCode >= http.StatusInternalServerError:
			// 5XX status code indicates server error, try retry
			retryLogger.WithFields(logrus.Fields{"requestId": requestID, "statusCode": resp.StatusCode}).
				Warn("response indicates error")
			sendErr = fmt.Errorf("provider responded with status %d", resp.StatusCode)
			return false
		case resp.StatusCode >= http.StatusBadRequest:
			// 4XX indicates client error, no need to retry
			sendErr = fmt.Errorf("provider rejected message (status %d): %s", resp.StatusCode, readSnippet(resp.Body))
		default:
			var result webhookResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				sendErr = fmt.Errorf("decode provider response: %w", err)
			} else if result.MessageID == "" {
				sendErr = errors.New("provider response carries no message id")
			} else {
				providerMessageID = result.MessageID
				sendErr = nil
			}
		}
		return true
	}

	if ok := <-p.retrier.Retry(ctx, retryFunc, true); !ok {
		if sendErr == nil {
			sendErr = ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, sendErr)
	}
	return providerMessageID, sendErr
}

func (p *WebhookProvider) doRequest(ctx context.Context, msg OutboundMessage) (*http.Response, error) {
	jsonPayload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("X-Request-ID", uuid.NewString())
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	return p.httpClient.Do(req)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return string(bytes.TrimSpace(b))
}

// LogProvider accepts every message and hands back a generated id. It stands
// in for a channel whose provider URL is not configured.
type LogProvider struct {
	log logrus.FieldLogger
}

func NewLogProvider(ch model.Channel) *LogProvider {
	return &LogProvider{log: logging.Component("provider").WithField("channel", ch)}
}

func (p *LogProvider) Send(_ context.Context, msg OutboundMessage) (string, error) {
	id := uuid.NewString()
	p.log.WithFields(logrus.Fields{
		"campaign_id":         msg.CampaignID,
		"contact_id":          msg.ContactID,
		"provider_message_id": id,
	}).Debug("Message accepted by log provider")
	return id, nil
}
