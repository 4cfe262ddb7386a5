// Package roles manages the dynamic permission roles assignable to users.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

var (
	// ErrNotFound indicates that the requested role does not exist.
	ErrNotFound = errors.New("roles: not found")
	// ErrNameTaken indicates a duplicate role name.
	ErrNameTaken = errors.New("roles: name already taken")
	// ErrNameRequired indicates a blank role name.
	ErrNameRequired = errors.New("roles: role name required")
	// ErrSystemRole indicates an attempt to edit or delete a system role.
	ErrSystemRole = errors.New("roles: system role is immutable")
)

// InUseError blocks deletion of a role that users still reference. The count
// is surfaced verbatim to the caller.
type InUseError struct {
	Count int64
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("roles: %d user(s) still assigned", e.Count)
}

// RoleInput carries the writable fields of a role.
type RoleInput struct {
	Name          string
	Description   string
	FullAccess    bool
	Permissions   identity.PermissionDoc
	IsTeamManager bool
	IsActive      bool
}

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]identity.Role, error)
	GetRole(ctx context.Context, id int64) (identity.Role, error)
	CreateRole(ctx context.Context, role identity.Role) (identity.Role, error)
	UpdateRole(ctx context.Context, role identity.Role) (identity.Role, error)
	DeleteRole(ctx context.Context, id int64) (int64, error)
}

// Service orchestrates role management. Permission documents are sanitized
// against the closed schema on every write; unknown keys never persist.
type Service struct {
	repo   RepositoryPort
	audit  shared.Recorder
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, audit shared.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ListRoles returns all roles with their holder counts.
func (s *Service) ListRoles(ctx context.Context) ([]identity.Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (identity.Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role after sanitizing its permission document.
func (s *Service) CreateRole(ctx context.Context, actorID int64, input RoleInput) (identity.Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return identity.Role{}, ErrNameRequired
	}
	role := identity.Role{
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		FullAccess:    input.FullAccess,
		Permissions:   identity.SanitizeDoc(input.Permissions),
		IsTeamManager: input.IsTeamManager,
		IsActive:      input.IsActive,
	}
	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		return identity.Role{}, err
	}
	s.record(ctx, actorID, "role.created", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdateRole applies changes to an existing role. System roles are immutable.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, input RoleInput) (identity.Role, error) {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return identity.Role{}, err
	}
	if existing.IsSystem {
		return identity.Role{}, ErrSystemRole
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return identity.Role{}, ErrNameRequired
	}
	existing.Name = name
	existing.Description = strings.TrimSpace(input.Description)
	existing.FullAccess = input.FullAccess
	existing.Permissions = identity.SanitizeDoc(input.Permissions)
	existing.IsTeamManager = input.IsTeamManager
	existing.IsActive = input.IsActive
	updated, err := s.repo.UpdateRole(ctx, existing)
	if err != nil {
		return identity.Role{}, err
	}
	s.record(ctx, actorID, "role.updated", updated.ID, map[string]any{"name": updated.Name})
	return updated, nil
}

// DeleteRole removes a role. Deletion is blocked for system roles and for
// roles any user still references; the error names the exact holder count.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}
	if existing.UserCount > 0 {
		return &InUseError{Count: existing.UserCount}
	}
	rows, err := s.repo.DeleteRole(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.record(ctx, actorID, "role.deleted", id, map[string]any{"name": existing.Name})
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: fmt.Sprintf("%d", roleID),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit role action", slog.Any("error", err))
	}
}
