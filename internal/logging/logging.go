// internal/logging/logging.go
package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Configure sets the global logrus level and formatter.
func Configure(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Component returns a logger tagged with the component name.
func Component(name string) logrus.FieldLogger {
	return logrus.WithField("component", name)
}

// RequestLogger logs every request with status and latency. Client errors
// are logged at warn, server errors at error.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = path + "?" + r.URL.RawQuery
			}
			entry := logrus.WithFields(logrus.Fields{
				"status":     ww.Status(),
				"latency":    time.Since(start),
				"method":     r.Method,
				"path":       path,
				"remote":     r.RemoteAddr,
				"request_id": middleware.GetReqID(r.Context()),
			})

			switch {
			case ww.Status() >= 500:
				entry.Error("Server error")
			case ww.Status() >= 400:
				entry.Warn("Client error")
			default:
				entry.Debug("Request handled")
			}
		})
	}
}
