package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/server/middleware"
	"github.com/nikoai/niko/internal/service"
)

// AuthHandler serves registration, login and the caller's own profile.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// Register creates a new unprivileged identity.
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id, err := h.auth.Register(r.Context(), service.RegisterInput{
		Name:     req.Username,
		Secret:   req.Password,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, id)
}

// Login exchanges a username and password for an access token.
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: res.Token.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(res.Token.ExpiresAt.Sub(res.Token.IssuedAt) / time.Second),
		ExpiresAt:   res.Token.ExpiresAt,
		Restored:    res.Restored,
	})
}

// Logout acknowledges a logout. Tokens are not tracked server side, so the
// client discards its copy.
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Logged out. Discard the access token."})
}

type serviceProfile struct {
	Name    string `json:"name"`
	Service bool   `json:"service"`
}

// Me returns the caller's own profile.
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p.Identity == nil {
		writeJSON(w, http.StatusOK, serviceProfile{Name: p.Name, Service: true})
		return
	}
	writeJSON(w, http.StatusOK, p.Identity)
}

type updateMeRequest struct {
	Email           *string `json:"email,omitempty"`
	FullName        *string `json:"full_name,omitempty"`
	CurrentPassword string  `json:"current_password,omitempty"`
	NewPassword     string  `json:"new_password,omitempty"`
}

// UpdateMe changes the caller's profile or password.
// PUT /me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateMeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id, err := h.auth.UpdateProfile(r.Context(), p.Name, service.ProfileUpdate{
		Email:         req.Email,
		FullName:      req.FullName,
		CurrentSecret: req.CurrentPassword,
		NewSecret:     req.NewPassword,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type deletionResponse struct {
	Message    string    `json:"message"`
	DeletedAt  time.Time `json:"deleted_at"`
	PurgeAfter time.Time `json:"purge_after"`
}

// DeleteMe marks the caller for deletion. Logging in again before
// purge_after cancels it.
// DELETE /me
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	id, err := h.auth.RequestDeletion(r.Context(), p.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deletionResponse{
		Message:    "Account scheduled for deletion. Log in before purge_after to cancel.",
		DeletedAt:  *id.DeletedAt,
		PurgeAfter: id.PurgeAfter(h.auth.Retention()),
	})
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*middleware.Principal, bool) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.Identity == nil {
		writeError(w, http.StatusForbidden, "Not available to service callers")
		return nil, false
	}
	return p, true
}
