package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/logging"
)

// TenantHeader carries the owning tenant. Requests without it act on DefaultTenant.
const (
	TenantHeader  = "X-Tenant-ID"
	DefaultTenant = "default"
)

func tenantFrom(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(TenantHeader)); t != "" {
		return t
	}
	return DefaultTenant
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Component("http").WithError(err).Warn("Failed to encode response")
	}
}

// writeError maps domain errors onto HTTP status codes. Anything unrecognised
// is a 500 with a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case appErrors.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case appErrors.IsNotFound(err):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, appErrors.ErrNotRetryable):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, appErrors.ErrInvalidEvent), errors.Is(err, appErrors.ErrUnknownChannel):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		logging.Component("http").WithError(err).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
