package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nikoai/niko/internal/metrics"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Name         string
	IsPrivileged bool
	// Service is set for callers admitted through the trusted-service key.
	// Such callers are never privileged and have no stored identity.
	Service  bool
	Identity *model.Identity
}

// Authenticator resolves a bearer token to a live identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Identity, error)
}

// ServiceLane configures the trusted-service key. An empty Key disables it.
type ServiceLane struct {
	Key     string
	Subject string
}

func (l ServiceLane) matches(presented string) bool {
	if l.Key == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(l.Key)) == 1
}

const (
	msgAuthRequired = "Authentication required"
	msgInvalidToken = "Invalid or expired token"
)

// Authenticate returns an HTTP middleware that resolves the caller's
// identity. It accepts, in order:
//
//  1. the trusted-service key in the X-API-Key header, when configured
//  2. a Bearer token in the Authorization header
//
// A missing credential is a 401 "Authentication required"; a bad token or
// an identity that no longer exists or is pending deletion is a 401
// "Invalid or expired token". A credential store failure is a 500. On
// success a Principal is attached to the request context. m may be nil.
func Authenticate(auth Authenticator, lane ServiceLane, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if lane.matches(r.Header.Get("X-API-Key")) {
				principal = &Principal{Name: lane.Subject, Service: true}
			}

			if principal == nil {
				raw, ok := bearerToken(r.Header.Get("Authorization"))
				if !ok {
					m.AuthFailure("missing")
					writeError(w, http.StatusUnauthorized, msgAuthRequired)
					return
				}

				id, err := auth.Authenticate(r.Context(), raw)
				switch {
				case errors.Is(err, service.ErrUnauthenticated):
					m.AuthFailure("invalid")
					logger.Debug("bearer token rejected",
						"reason", err.Error(),
						"request_id", GetRequestID(r.Context()),
					)
					writeError(w, http.StatusUnauthorized, msgInvalidToken)
					return
				case err != nil:
					m.AuthFailure("store")
					logger.Error("resolve identity failed",
						"error", err,
						"request_id", GetRequestID(r.Context()),
					)
					writeError(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				principal = &Principal{Name: id.Name, IsPrivileged: id.IsPrivileged, Identity: id}
			}

			annotate(r.Context(), func(i *RequestInfo) { i.Subject = principal.Name })
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequirePrivileged returns an HTTP middleware that admits only privileged
// identities. It must be used after Authenticate in the middleware chain.
func RequirePrivileged(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				m.AuthFailure("missing")
				writeError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			if principal.Service || !principal.IsPrivileged {
				m.AuthFailure("forbidden")
				writeError(w, http.StatusForbidden, "Insufficient privilege")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}
