// Package clients implements client visibility and the assignment guards: who
// may see which clients, and who may (un)assign whom.
package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

var (
	// ErrCannotManageClients indicates the actor fails the coarse gate or the
	// target falls outside the actor's managed subtree.
	ErrCannotManageClients = errors.New("clients: cannot manage client assignments")
	// ErrClientAccessDenied indicates the actor has no access to the client
	// itself (neither creator nor assignee).
	ErrClientAccessDenied = errors.New("clients: no access to this client")
	// ErrTargetWithoutRole blocks assignment to principals without a Role.
	ErrTargetWithoutRole = errors.New("clients: target has no role assigned")
	// ErrSelfUnassign permanently blocks non-privileged self-unassignment.
	ErrSelfUnassign = errors.New("clients: self-unassignment is blocked")
)

// Client is a customer record owned by the dashboard.
type Client struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	CreatedBy *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment links a client to a principal.
type Assignment struct {
	ClientID   int64
	UserID     int64
	AssignedBy int64
	AssignedAt time.Time
}

// Scope is the outcome of a visibility computation: either everything, or an
// explicit id set. Computed fresh per request, never cached.
type Scope struct {
	All bool
	IDs []int64
}

// Contains reports whether the scope includes id.
func (s Scope) Contains(id int64) bool {
	if s.All {
		return true
	}
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// RepositoryPort defines data access for clients and assignments.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*Client, error)
	ListAll(ctx context.Context) ([]Client, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Client, error)
	Create(ctx context.Context, c Client) (*Client, error)
	AccessibleIDs(ctx context.Context, userID int64, includeCreated bool) ([]int64, error)
	HasClientAccess(ctx context.Context, userID, clientID int64) (bool, error)
	UpsertAssignment(ctx context.Context, a Assignment) error
	DeleteAssignment(ctx context.Context, clientID, userID int64) (int64, error)
	ListAssignees(ctx context.Context, clientID int64) ([]Assignment, error)
}

// UserDirectory is the slice of the users repository the assignment guards
// need: target lookup and the direct management-relation check.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*identity.Principal, error)
	IsCreatorOrManager(ctx context.Context, actorID, targetID int64) (bool, error)
}

// Service implements client visibility and assignment management.
type Service struct {
	repo   RepositoryPort
	users  UserDirectory
	audit  shared.Recorder
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, users UserDirectory, audit shared.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, users: users, audit: audit, logger: logger}
}

// AccessibleClientIDs computes the set of client ids the actor may read: all
// for full access, created plus assigned otherwise. Without Read or Create on
// the Clients module the created part is dropped and only assignments count.
func (s *Service) AccessibleClientIDs(ctx context.Context, actor *identity.Principal) (Scope, error) {
	if identity.HasFullAccess(actor) {
		return Scope{All: true}, nil
	}
	includeCreated := identity.HasPermission(actor, identity.ModuleClients, identity.ActionRead) ||
		identity.HasPermission(actor, identity.ModuleClients, identity.ActionCreate)
	ids, err := s.repo.AccessibleIDs(ctx, actor.ID, includeCreated)
	if err != nil {
		return Scope{}, err
	}
	return Scope{IDs: ids}, nil
}

// ListVisible returns the client rows inside the actor's visibility scope.
func (s *Service) ListVisible(ctx context.Context, actor *identity.Principal) ([]Client, error) {
	scope, err := s.AccessibleClientIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope.All {
		return s.repo.ListAll(ctx)
	}
	return s.repo.ListByIDs(ctx, scope.IDs)
}

// GetClient fetches one client if it lies inside the actor's scope.
func (s *Service) GetClient(ctx context.Context, actor *identity.Principal, clientID int64) (*Client, error) {
	scope, err := s.AccessibleClientIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !scope.Contains(clientID) {
		return nil, ErrClientAccessDenied
	}
	return s.repo.FindByID(ctx, clientID)
}

// CreateClient inserts a new client owned by the actor.
func (s *Service) CreateClient(ctx context.Context, actor *identity.Principal, c Client) (*Client, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.CreatedBy = &actor.ID
	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor.ID, "client.created", created.ID, nil)
	return created, nil
}

// CanManageClients is the coarse gate: full access or a Clients Create/Update
// grant. Per-client ownership is checked separately by the mutation guards.
func (s *Service) CanManageClients(actor *identity.Principal) bool {
	return identity.HasFullAccess(actor) ||
		identity.HasPermission(actor, identity.ModuleClients, identity.ActionCreate) ||
		identity.HasPermission(actor, identity.ModuleClients, identity.ActionUpdate)
}

// AssignClient links the target principal to the client. A full-access actor
// may assign any role-holding target; a team manager may only hand out
// clients it has access to, and only to members of its own subtree.
func (s *Service) AssignClient(ctx context.Context, actor *identity.Principal, clientID, targetID int64) error {
	if !s.CanManageClients(actor) {
		return ErrCannotManageClients
	}
	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.RoleID == nil {
		return ErrTargetWithoutRole
	}
	if _, err := s.repo.FindByID(ctx, clientID); err != nil {
		return err
	}
	if !identity.HasFullAccess(actor) {
		if err := s.checkTeamManagerReach(ctx, actor, clientID, targetID); err != nil {
			return err
		}
	}
	if err := s.repo.UpsertAssignment(ctx, Assignment{
		ClientID: clientID, UserID: targetID, AssignedBy: actor.ID,
	}); err != nil {
		return err
	}
	s.record(ctx, actor.ID, "client.assigned", clientID, map[string]any{"user_id": targetID})
	return nil
}

// UnassignClient removes the target's assignment. The rules mirror
// assignment, with one addition: a non-full-access actor can never unassign
// itself, even from clients it otherwise controls.
func (s *Service) UnassignClient(ctx context.Context, actor *identity.Principal, clientID, targetID int64) error {
	if !s.CanManageClients(actor) {
		return ErrCannotManageClients
	}
	if _, err := s.repo.FindByID(ctx, clientID); err != nil {
		return err
	}
	if !identity.HasFullAccess(actor) {
		if actor.ID == targetID {
			return ErrSelfUnassign
		}
		if err := s.checkTeamManagerReach(ctx, actor, clientID, targetID); err != nil {
			return err
		}
	}
	rows, err := s.repo.DeleteAssignment(ctx, clientID, targetID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return shared.ErrNotFound
	}
	s.record(ctx, actor.ID, "client.unassigned", clientID, map[string]any{"user_id": targetID})
	return nil
}

// ListAssignees returns the current assignments for a client inside the
// actor's scope.
func (s *Service) ListAssignees(ctx context.Context, actor *identity.Principal, clientID int64) ([]Assignment, error) {
	scope, err := s.AccessibleClientIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !scope.Contains(clientID) {
		return nil, ErrClientAccessDenied
	}
	return s.repo.ListAssignees(ctx, clientID)
}

// checkTeamManagerReach enforces both team-manager conditions: access to the
// client itself, and the target inside the actor's managed subtree.
func (s *Service) checkTeamManagerReach(ctx context.Context, actor *identity.Principal, clientID, targetID int64) error {
	hasClient, err := s.repo.HasClientAccess(ctx, actor.ID, clientID)
	if err != nil {
		return err
	}
	if !hasClient {
		return ErrClientAccessDenied
	}
	if actor.ID == targetID {
		return nil
	}
	inSubtree, err := s.users.IsCreatorOrManager(ctx, actor.ID, targetID)
	if err != nil {
		return err
	}
	if !inSubtree {
		return ErrCannotManageClients
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, clientID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "client",
		EntityID: fmt.Sprintf("%d", clientID),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit client action", slog.Any("error", err))
	}
}
