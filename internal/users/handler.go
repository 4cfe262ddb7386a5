package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/platform/httpx"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

// Handler wires HTTP endpoints for principal management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the user routes. Listing is visibility-scoped inside
// the service; creation is additionally gated on the Users-Create permission.
func (h *Handler) MountRoutes(r chi.Router, guard identity.Middleware) {
	r.Get("/", h.handleList)
	r.With(guard.RequirePermission(identity.ModuleUsers, identity.ActionCreate)).
		Post("/", h.handleCreate)
	r.Get("/managers", h.handleManagers)
	r.Get("/employees", h.handleEmployees)
	r.Get("/{userID}", h.handleGet)
	r.Put("/{userID}", h.handleUpdate)
	r.Post("/{userID}/revoke-sessions", h.handleRevokeSessions)
}

type createRequest struct {
	Name       string `json:"name" validate:"required,max=150"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	LegacyRole string `json:"legacyRole" validate:"required"`
	RoleID     *int64 `json:"roleId"`
}

type updateRequest struct {
	Name       *string `json:"name" validate:"omitempty,max=150"`
	IsActive   *bool   `json:"isActive"`
	RoleID     *int64  `json:"roleId"`
	RemoveRole bool    `json:"removeRole"`
}

type userView struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	Email        string              `json:"email"`
	LegacyRole   identity.LegacyRole `json:"legacyRole"`
	IsActive     bool                `json:"isActive"`
	RoleID       *int64              `json:"roleId,omitempty"`
	RoleName     string              `json:"roleName,omitempty"`
	CreatedBy    *int64              `json:"createdBy,omitempty"`
	SuperAdminID *int64              `json:"superAdminId,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func toUserView(p *identity.Principal) userView {
	view := userView{
		ID:           p.ID,
		Name:         p.Name,
		Email:        p.Email,
		LegacyRole:   p.LegacyRole,
		IsActive:     p.IsActive,
		RoleID:       p.RoleID,
		CreatedBy:    p.CreatedBy,
		SuperAdminID: p.SuperAdminID,
		CreatedAt:    p.CreatedAt,
	}
	if p.Role != nil {
		view.RoleName = p.Role.Name
	}
	return view
}

func toUserViews(list []identity.Principal) []userView {
	views := make([]userView, 0, len(list))
	for i := range list {
		views = append(views, toUserView(&list[i]))
	}
	return views
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor := identity.PrincipalFromContext(r.Context())
	list, err := h.service.ListUsers(r.Context(), actor)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, toUserViews(list))
}

func (h *Handler) handleManagers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListManagers(r.Context())
	if err != nil {
		h.logger.Error("list managers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, toUserViews(list))
}

func (h *Handler) handleEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListEmployees(r.Context())
	if err != nil {
		h.logger.Error("list employees", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, toUserViews(list))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	target, err := h.service.GetUser(r.Context(), actor, id)
	if err != nil {
		h.respondServiceError(w, r, err, id)
		return
	}
	httpx.OK(w, http.StatusOK, toUserView(target))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Name, email and a password of at least 8 characters are required")
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	created, err := h.service.CreateUser(r.Context(), actor, CreateInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		LegacyRole: identity.LegacyRole(req.LegacyRole),
		RoleID:     req.RoleID,
	})
	if err != nil {
		h.respondServiceError(w, r, err, 0)
		return
	}
	httpx.OK(w, http.StatusCreated, toUserView(created))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid update payload")
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	updated, err := h.service.UpdateUser(r.Context(), actor, id, UpdateInput{
		Name:       req.Name,
		IsActive:   req.IsActive,
		RoleID:     req.RoleID,
		RemoveRole: req.RemoveRole,
	})
	if err != nil {
		h.respondServiceError(w, r, err, id)
		return
	}
	httpx.OK(w, http.StatusOK, toUserView(updated))
}

func (h *Handler) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	if err := h.service.RevokeSessions(r.Context(), actor, id); err != nil {
		h.respondServiceError(w, r, err, id)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"revoked": true})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, targetID int64) {
	actorID, _ := identity.RequestPrincipalID(r)
	switch {
	case errors.Is(err, ErrCannotManage):
		h.logger.Warn("user management denied",
			slog.Int64("actor_id", actorID), slog.Int64("target_id", targetID))
		httpx.Reject(w, http.StatusForbidden, httpx.CodeCannotManageUser, "You cannot manage this user")
	case errors.Is(err, ErrRestrictedFields):
		h.logger.Warn("restricted user fields denied",
			slog.Int64("actor_id", actorID), slog.Int64("target_id", targetID))
		httpx.Reject(w, http.StatusForbidden, httpx.CodeInsufficientPermissions, "You do not have permission to change roles or account status")
	case errors.Is(err, shared.ErrNotFound):
		httpx.Reject(w, http.StatusNotFound, httpx.CodeResourceNotFound, "User not found")
	case errors.Is(err, ErrEmailTaken):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "A user with this email already exists")
	case errors.Is(err, ErrInvalidLegacyRole):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid legacy role tag")
	case errors.Is(err, ErrSuperAdminExists):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "A superadmin account already exists")
	default:
		h.logger.Error("user operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid user id")
		return 0, false
	}
	return id, true
}
