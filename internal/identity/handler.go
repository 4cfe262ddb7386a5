package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsedesk/pulsedesk/internal/platform/httpx"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

// ResetTokenSink receives freshly minted reset credentials for delivery. The
// delivery mechanism itself (email) lives outside this core.
type ResetTokenSink func(ctx context.Context, email, token string) error

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	resetSink ResetTokenSink
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resetSink ResetTokenSink) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		resetSink: resetSink,
	}
}

// MountPublicRoutes registers the unauthenticated auth routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/password-reset", h.handlePasswordResetRequest)
	r.Post("/password-reset/confirm", h.handlePasswordResetConfirm)
}

// MountProtectedRoutes registers routes requiring a resolved principal.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Get("/me", h.handleMe)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type principalView struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	LegacyRole LegacyRole `json:"legacyRole"`
	IsActive   bool       `json:"isActive"`
	Role       *roleView  `json:"role,omitempty"`
}

type roleView struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	FullAccess    bool          `json:"fullAccess"`
	IsTeamManager bool          `json:"isTeamManager"`
	IsActive      bool          `json:"isActive"`
	Permissions   PermissionDoc `json:"permissions"`
}

func toPrincipalView(p *Principal) principalView {
	view := principalView{
		ID:         p.ID,
		Name:       p.Name,
		Email:      p.Email,
		LegacyRole: p.LegacyRole,
		IsActive:   p.IsActive,
	}
	if p.Role != nil {
		view.Role = &roleView{
			ID:            p.Role.ID,
			Name:          p.Role.Name,
			FullAccess:    p.Role.FullAccess,
			IsTeamManager: p.Role.IsTeamManager,
			IsActive:      p.Role.IsActive,
			Permissions:   p.Role.Permissions,
		}
	}
	return view
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Email and password are required")
		return
	}
	user, token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Warn("login rejected",
				slog.String("ip", r.RemoteAddr), slog.String("path", r.URL.Path))
			httpx.Reject(w, http.StatusUnauthorized, httpx.CodeInvalidCredentials, "Invalid email or password")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  toPrincipalView(user),
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Reject(w, http.StatusUnauthorized, httpx.CodeAuthRequired, "Authentication required")
		return
	}
	httpx.OK(w, http.StatusOK, toPrincipalView(p))
}

// handleLogout revokes every outstanding credential for the caller by bumping
// its token version.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Reject(w, http.StatusUnauthorized, httpx.CodeAuthRequired, "Authentication required")
		return
	}
	if _, err := h.service.RevokeSessions(r.Context(), p.ID); err != nil {
		h.logger.Error("logout", slog.Int64("principal_id", p.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"loggedOut": true})
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "A valid email is required")
		return
	}
	token, err := h.service.RequestPasswordReset(r.Context(), req.Email)
	if err == nil && h.resetSink != nil {
		if sinkErr := h.resetSink(r.Context(), req.Email, token); sinkErr != nil {
			h.logger.Error("reset token delivery", slog.Any("error", sinkErr))
		}
	}
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error("password reset request", slog.Any("error", err))
	}
	// The response never reveals whether the account exists.
	httpx.OK(w, http.StatusAccepted, map[string]any{"requested": true})
}

type resetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Token and a password of at least 8 characters are required")
		return
	}
	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			httpx.Reject(w, http.StatusBadRequest, httpx.CodeTokenExpired, "Reset token has expired, request a new one")
		case errors.Is(err, ErrTokenMalformed), errors.Is(err, ErrTokenType), errors.Is(err, ErrResetTokenSpent):
			httpx.Reject(w, http.StatusBadRequest, httpx.CodeTokenInvalid, "Invalid or already used reset token")
		default:
			h.logger.Error("password reset confirm", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"reset": true})
}
