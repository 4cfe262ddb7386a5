package clients

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

// Handler wires HTTP endpoints for client visibility and assignment.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the client routes. Reads are scoped inside the
// service; creation is gated on the Clients-Create permission.
func (h *Handler) MountRoutes(r chi.Router, guard identity.Middleware) {
	r.Get("/", h.handleList)
	r.With(guard.RequirePermission(identity.ModuleClients, identity.ActionCreate)).
		Post("/", h.handleCreate)
	r.Get("/{clientID}", h.handleGet)
	r.Get("/{clientID}/assignments", h.handleListAssignments)
	r.Post("/{clientID}/assignments", h.handleAssign)
	r.Delete("/{clientID}/assignments/{userID}", h.handleUnassign)
}

type createClientRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=30"`
}

type assignRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

type clientView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedBy *int64    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type assignmentView struct {
	ClientID   int64     `json:"clientId"`
	UserID     int64     `json:"userId"`
	AssignedBy int64     `json:"assignedBy"`
	AssignedAt time.Time `json:"assignedAt"`
}

func toClientView(c *Client) clientView {
	return clientView{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor := identity.PrincipalFromContext(r.Context())
	list, err := h.service.ListVisible(r.Context(), actor)
	if err != nil {
		h.logger.Error("list clients", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]clientView, 0, len(list))
	for i := range list {
		views = append(views, toClientView(&list[i]))
	}
	httpx.OK(w, http.StatusOK, views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	client, err := h.service.GetClient(r.Context(), actor, id)
	if err != nil {
		h.respondServiceError(w, r, err, id, 0)
		return
	}
	httpx.OK(w, http.StatusOK, toClientView(client))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Client name is required")
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	created, err := h.service.CreateClient(r.Context(), actor, Client{
		Name: req.Name, Email: req.Email, Phone: req.Phone,
	})
	if err != nil {
		h.respondServiceError(w, r, err, 0, 0)
		return
	}
	httpx.OK(w, http.StatusCreated, toClientView(created))
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	list, err := h.service.ListAssignees(r.Context(), actor, id)
	if err != nil {
		h.respondServiceError(w, r, err, id, 0)
		return
	}
	views := make([]assignmentView, 0, len(list))
	for _, a := range list {
		views = append(views, assignmentView{
			ClientID: a.ClientID, UserID: a.UserID,
			AssignedBy: a.AssignedBy, AssignedAt: a.AssignedAt,
		})
	}
	httpx.OK(w, http.StatusOK, views)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "A target user id is required")
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	if err := h.service.AssignClient(r.Context(), actor, clientID, req.UserID); err != nil {
		h.respondServiceError(w, r, err, clientID, req.UserID)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"assigned": true})
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	actor := identity.PrincipalFromContext(r.Context())
	if err := h.service.UnassignClient(r.Context(), actor, clientID, targetID); err != nil {
		h.respondServiceError(w, r, err, clientID, targetID)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"unassigned": true})
}

// respondServiceError maps guard failures to their distinct wire codes and
// logs actor plus target ids for every denial.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, clientID, targetID int64) {
	actorID, _ := identity.RequestPrincipalID(r)
	denied := func(code, message string) {
		h.logger.Warn("client management denied",
			slog.Int64("actor_id", actorID),
			slog.Int64("client_id", clientID),
			slog.Int64("target_id", targetID),
			slog.String("code", code),
		)
		httpx.Reject(w, http.StatusForbidden, code, message)
	}
	switch {
	case errors.Is(err, ErrCannotManageClients):
		denied(httpx.CodeCannotManageClients, "You can only assign clients to your own team members")
	case errors.Is(err, ErrClientAccessDenied):
		denied(httpx.CodeClientAccessDenied, "You do not have access to this client")
	case errors.Is(err, ErrSelfUnassign):
		denied(httpx.CodeCannotManageClients, "You cannot remove yourself from a client")
	case errors.Is(err, ErrTargetWithoutRole):
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "The target user must have a role before clients can be assigned")
	case errors.Is(err, shared.ErrNotFound):
		httpx.Reject(w, http.StatusNotFound, httpx.CodeResourceNotFound, "Client or assignment not found")
	default:
		h.logger.Error("client operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Reject(w, http.StatusBadRequest, httpx.CodeValidationError, "Invalid "+name)
		return 0, false
	}
	return id, true
}
