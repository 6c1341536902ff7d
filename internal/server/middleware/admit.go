package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/nikoai/niko/internal/metrics"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/ratelimit"
)

// KeyFunc derives the caller key a rate-limit window belongs to.
type KeyFunc func(r *http.Request) string

// KeyByRemoteAddr keys on the host of the connection's remote address.
// Client-supplied forwarding headers are ignored.
func KeyByRemoteAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// KeyByForwarded keys on the client address reported by True-Client-IP,
// X-Real-IP or X-Forwarded-For. Only use it when every request arrives
// through a proxy that overwrites those headers.
func KeyByForwarded(r *http.Request) string {
	if key, err := httprate.KeyByRealIP(r); err == nil && key != "" {
		return key
	}
	return KeyByRemoteAddr(r)
}

// Admit returns an HTTP middleware that applies the sliding-window limiter
// to every request the classifier does not bypass. Rejected requests get a
// 429 with Retry-After; admitted ones carry X-RateLimit-Limit and
// X-RateLimit-Remaining. A nil key uses KeyByRemoteAddr; m may be nil.
func Admit(limiter *ratelimit.Limiter, classifier *Classifier, key KeyFunc, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = KeyByRemoteAddr
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, bypass := classifier.Classify(r.URL.Path)
			if bypass {
				next.ServeHTTP(w, r)
				return
			}

			caller := key(r)
			annotate(r.Context(), func(i *RequestInfo) { i.Class = class.String() })

			d := limiter.Allow(caller, class)
			m.Admission(class.String(), d.Allowed)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				secs := d.RetryAfterSeconds()
				logger.Warn("rate limit exceeded",
					"class", class.String(),
					"caller", caller,
					"retry_after", secs,
					"request_id", GetRequestID(r.Context()),
				)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeErrorBody(w, http.StatusTooManyRequests, model.ErrorResponse{
					Error: model.ErrorDetail{
						Code:    http.StatusTooManyRequests,
						Message: "Too many requests. Please wait before retrying.",
						Context: map[string]interface{}{"class": class.String()},
					},
					RetryAfter: secs,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
