package roles

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/platform/httpx"
)

// Handler wires HTTP endpoints for role management. All routes are mounted
// behind the full-access guard; role administration is never delegated.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the role CRUD routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{roleID}", h.handleGet)
	r.Put("/{roleID}", h.handleUpdate)
	r.Delete("/{roleID}", h.handleDelete)
}

type roleRequest struct {
	Name          string                 `json:"name" validate:"required,max=100"`
	Description   string                 `json:"description" validate:"max=500"`
	FullAccess    bool                   `json:"fullAccess"`
	Permissions   identity.PermissionDoc `json:"permissions"`
	IsTeamManager bool                   `json:"isTeamManager"`
	IsActive      bool                   `json:"isActive"`
}

func (req roleRequest) toInput() RoleInput {
	return RoleInput{
		Name:          req.Name,
		Description:   req.Description,
		FullAccess:    req.FullAccess,
		Permissions:   req.Permissions,
		IsTeamManager: req.IsTeamManager,
		IsActive:      req.IsActive,
	}
}

type roleView struct {
	ID            int64                  `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	FullAccess    bool                   `json:"fullAccess"`
	Permissions   identity.PermissionDoc `json:"permissions"`
	IsTeamManager bool                   `json:"isTeamManager"`
	IsActive      bool                   `json:"isActive"`
	IsSystem      bool                   `json:"isSystem"`
	UserCount     int64                  `json:"userCount"`
}

func toRoleView(role identity.Role) roleView {
	perms := role.Permissions
	if perms == nil {
		perms = identity.PermissionDoc{}
	}
	return roleView{
		ID:            role.ID,
		Name:          role.Name,
		Description:   role.Description,
		FullAccess:    role.FullAccess,
		Permissions:   perms,
		IsTeamManager: role.IsTeamManager,
		IsActive:      role.IsActive,
		IsSystem:      role.IsSystem,
		UserCount:     role.UserCount,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]roleView, 0, len(list))
	for _, role := range list {
		views = append(views, toRoleView(role))
	}
	httpx.OK(w, http.StatusOK, views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Role name is required")
		return
	}
	actorID, _ := identity.RequestPrincipalID(r)
	role, err := h.service.CreateRole(r.Context(), actorID, req.toInput())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, toRoleView(role))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Role name is required")
		return
	}
	actorID, _ := identity.RequestPrincipalID(r)
	role, err := h.service.UpdateRole(r.Context(), actorID, id, req.toInput())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	actorID, _ := identity.RequestPrincipalID(r)
	if err := h.service.DeleteRole(r.Context(), actorID, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var inUse *InUseError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Reject(w, http.StatusNotFound, httpx.CodeResourceNotFound, "Role not found")
	case errors.Is(err, ErrSystemRole):
		httpx.Reject(w, http.StatusForbidden, httpx.CodeRoleSystemProtected, "System roles cannot be modified or deleted")
	case errors.Is(err, ErrNameRequired):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Role name is required")
	case errors.Is(err, ErrNameTaken):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "A role with this name already exists")
	case errors.As(err, &inUse):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeRoleInUse,
			fmt.Sprintf("Cannot delete role: %d user(s) are still assigned to it", inUse.Count))
	default:
		h.logger.Error("role operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid role id")
		return 0, false
	}
	return id, true
}
