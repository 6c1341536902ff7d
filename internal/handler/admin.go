package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/ratelimit"
	"github.com/nikoai/niko/internal/server/middleware"
	"github.com/nikoai/niko/internal/service"
)

// AdminHandler serves identity management and limiter maintenance for
// privileged callers.
type AdminHandler struct {
	auth    *service.AuthService
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(auth *service.AuthService, limiter *ratelimit.Limiter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, limiter: limiter, logger: logger}
}

// ---------------------------------------------------------------------------
// Identities
// ---------------------------------------------------------------------------

// ListUsers returns identities, optionally sorted and filtered.
// GET /api/admin/users?sort_by=&sort_order=&filter_admin=&include_deleted=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ids, err := h.auth.ListIdentities(r.Context(), config.ListFilter{
		IncludeDeleted: queryBool(r, "include_deleted"),
		Privileged:     queryOptionalBool(r, "filter_admin"),
		SortBy:         queryString(r, "sort_by"),
		Desc:           strings.EqualFold(queryString(r, "sort_order"), "desc"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: ids,
		Meta: &model.ResponseMeta{
			Count:  len(ids),
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

type createUserRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Email        string `json:"email,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	IsPrivileged bool   `json:"is_privileged"`
}

// CreateUser creates an identity, optionally privileged.
// POST /api/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id, err := h.auth.CreateIdentity(r.Context(), service.CreateInput{
		RegisterInput: service.RegisterInput{
			Name:     req.Username,
			Secret:   req.Password,
			Email:    req.Email,
			FullName: req.FullName,
		},
		IsPrivileged: req.IsPrivileged,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.Info("identity created by admin",
		"name", id.Name,
		"actor", middleware.GetPrincipal(r.Context()).Name,
	)
	writeJSON(w, http.StatusCreated, id)
}

// GetUser returns one identity, including one pending deletion.
// GET /api/admin/users/{name}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth.GetIdentity(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type updateUserRequest struct {
	Email        *string `json:"email,omitempty"`
	FullName     *string `json:"full_name,omitempty"`
	IsPrivileged *bool   `json:"is_privileged,omitempty"`
	Password     *string `json:"password,omitempty"`
}

// UpdateUser changes profile fields, the privilege flag or the password.
// PUT /api/admin/users/{name}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	name := chi.URLParam(r, "name")
	id, err := h.auth.UpdateIdentity(r.Context(), name, service.AdminUpdate{
		Email:        req.Email,
		FullName:     req.FullName,
		IsPrivileged: req.IsPrivileged,
		NewSecret:    req.Password,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.Info("identity updated by admin",
		"name", name,
		"actor", middleware.GetPrincipal(r.Context()).Name,
		"password_reset", req.Password != nil,
	)
	writeJSON(w, http.StatusOK, id)
}

// DeleteUser marks an identity for deletion. Administrators cannot delete
// themselves.
// DELETE /api/admin/users/{name}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetPrincipal(r.Context()).Name
	id, err := h.auth.DeleteIdentity(r.Context(), actor, chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deletionResponse{
		Message:    "User scheduled for deletion",
		DeletedAt:  *id.DeletedAt,
		PurgeAfter: id.PurgeAfter(h.auth.Retention()),
	})
}

// RestoreUser clears a pending deletion.
// POST /api/admin/users/{name}/restore
func (h *AdminHandler) RestoreUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth.RestoreIdentity(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type purgeResponse struct {
	Purged []string `json:"purged"`
	Count  int      `json:"count"`
}

// Purge runs the expired-deletion sweep immediately.
// POST /api/admin/purge
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	names, err := h.auth.PurgeExpired(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, purgeResponse{Purged: names, Count: len(names)})
}

// ---------------------------------------------------------------------------
// Rate limiter
// ---------------------------------------------------------------------------

type classQuota struct {
	Class       string `json:"class"`
	MaxRequests int    `json:"max_requests"`
	WindowSecs  int64  `json:"window_seconds"`
	Remaining   int    `json:"remaining"`
}

type rateLimitStatus struct {
	Caller  string       `json:"caller"`
	Classes []classQuota `json:"classes"`
	Windows int          `json:"tracked_windows"`
}

// RateLimitStatus reports the remaining quota per class for one caller.
// GET /api/admin/ratelimit?caller=
func (h *AdminHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	caller := queryString(r, "caller")
	if caller == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'caller' is required")
		return
	}

	policies := h.limiter.Policies()
	out := rateLimitStatus{Caller: caller, Windows: h.limiter.Len()}
	for _, c := range ratelimit.Classes {
		p := policies.For(c)
		out.Classes = append(out.Classes, classQuota{
			Class:       c.String(),
			MaxRequests: p.MaxRequests,
			WindowSecs:  int64(p.Window / time.Second),
			Remaining:   h.limiter.Remaining(caller, c),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type resetResponse struct {
	Cleared int `json:"cleared"`
}

// RateLimitReset clears limiter windows. With no parameters every window
// is cleared; caller and class narrow the reset.
// DELETE /api/admin/ratelimit?caller=&class=
func (h *AdminHandler) RateLimitReset(w http.ResponseWriter, r *http.Request) {
	f := ratelimit.ResetFilter{CallerKey: queryString(r, "caller")}
	if name := queryString(r, "class"); name != "" {
		c, err := ratelimit.ParseClass(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Class = &c
	}

	n := h.limiter.Reset(f)
	h.logger.Info("rate limit windows reset",
		"caller", f.CallerKey,
		"class", queryString(r, "class"),
		"cleared", n,
		"actor", middleware.GetPrincipal(r.Context()).Name,
	)
	writeJSON(w, http.StatusOK, resetResponse{Cleared: n})
}
