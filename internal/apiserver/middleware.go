// Package apiserver wires the chi HTTP router and handlers for the
// control plane's external interfaces (spec §4.1-§4.9, §6). The
// middleware stack (request id, structured logging, recoverer, rate
// limiting) follows the teacher's internal/api_server/server.go and
// internal/api_server/middleware conventions.
package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"
)

// WriteJSONError mirrors the teacher's
// middleware.WriteJSONError(w, code, reason, err) convention,
// rendering an apperr.Error as {code, message, reason}.
func WriteJSONError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	var appErr *apperr.Error
	if ae, ok := err.(*apperr.Error); ok {
		appErr = ae
		status = ae.HTTPStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	reason := string(kind)
	if appErr != nil && appErr.Reason != "" {
		reason = appErr.Reason
	}

	_ = writeJSON(w, map[string]interface{}{
		"code":    status,
		"message": err.Error(),
		"reason":  reason,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request at Info level with method, path,
// status, and latency, matching the teacher's structured-logging
// style via logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("request handled")
		})
	}
}

// deviceRateLimiter caps per-device request volume, separate from the
// unauthenticated IP limiter, matching the teacher's
// DeviceIdentityRateLimiter convention
// (internal/api_server/middleware/ratelimit.go). Authentication runs
// after this middleware in the chain, so the key function falls back
// to the remote address for the not-yet-authenticated request.
func deviceRateLimiter(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerWindow,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id, ok := deviceIDFromContext(r.Context()); ok {
				return id, nil
			}
			return r.RemoteAddr, nil
		}),
	)
}

// httpRateLimitByIP guards unauthenticated endpoints like device
// registration (spec §4.1, §5), matching the teacher's
// IPRateLimiter(requests, window, message) convention.
func httpRateLimitByIP(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requestsPerWindow, window, httprate.WithKeyByIP())
}
