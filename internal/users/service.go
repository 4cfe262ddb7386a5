// Package users manages principals: visibility-scoped listing, the
// manager/employee partition and the per-target management guard.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

var (
	// ErrEmailTaken indicates a duplicate email address.
	ErrEmailTaken = errors.New("users: email already taken")
	// ErrCannotManage indicates the actor has no management relationship with
	// the target. Distinct from a plain permission denial.
	ErrCannotManage = errors.New("users: cannot manage target")
	// ErrSuperAdminExists guards the single-superadmin invariant.
	ErrSuperAdminExists = errors.New("users: a legacy superadmin already exists")
	// ErrInvalidLegacyRole indicates a tag outside the closed legacy enum.
	ErrInvalidLegacyRole = errors.New("users: invalid legacy role tag")
	// ErrRestrictedFields indicates a write touched role binding or account
	// status without user-administration rights. Self access never covers
	// these fields.
	ErrRestrictedFields = errors.New("users: restricted fields require user administration rights")
)

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

// CreateInput carries the fields for a new principal.
type CreateInput struct {
	Name       string
	Email      string
	Password   string
	LegacyRole identity.LegacyRole
	RoleID     *int64
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	Name       *string
	IsActive   *bool
	RoleID     *int64
	RemoveRole bool
}

// RepositoryPort defines data access for principal management.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*identity.Principal, error)
	ListAll(ctx context.Context) ([]identity.Principal, error)
	ListByIDs(ctx context.Context, ids []int64) ([]identity.Principal, error)
	ListManagers(ctx context.Context) ([]identity.Principal, error)
	ListEmployees(ctx context.Context) ([]identity.Principal, error)
	EmployeeIDsFor(ctx context.Context, managerID int64) ([]int64, error)
	IsCreatorOrManager(ctx context.Context, actorID, targetID int64) (bool, error)
	Create(ctx context.Context, p identity.Principal) (*identity.Principal, error)
	Update(ctx context.Context, p identity.Principal) (*identity.Principal, error)
	CountLegacySuperAdmins(ctx context.Context) (int64, error)
	BumpTokenVersion(ctx context.Context, id int64) (int64, error)
}

// Service implements principal management on top of the permission model.
type Service struct {
	repo   RepositoryPort
	audit  shared.Recorder
	logger *slog.Logger
	titler cases.Caser
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, audit shared.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, titler: cases.Title(language.Und)}
}

// AccessibleEmployeeIDs computes the set of principal ids the actor may read.
// Full access sees everyone; a manager sees itself plus principals it created
// or manages (direct edges only); everyone else sees only itself.
func (s *Service) AccessibleEmployeeIDs(ctx context.Context, actor *identity.Principal) (Scope, error) {
	if identity.HasFullAccess(actor) {
		return Scope{All: true}, nil
	}
	if identity.IsManager(actor) {
		ids, err := s.repo.EmployeeIDsFor(ctx, actor.ID)
		if err != nil {
			return Scope{}, err
		}
		scope := Scope{IDs: ids}
		if !scope.Contains(actor.ID) {
			scope.IDs = append(scope.IDs, actor.ID)
		}
		return scope, nil
	}
	return Scope{IDs: []int64{actor.ID}}, nil
}

// ListUsers returns the principals visible to the actor.
func (s *Service) ListUsers(ctx context.Context, actor *identity.Principal) ([]identity.Principal, error) {
	scope, err := s.AccessibleEmployeeIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope.All {
		return s.repo.ListAll(ctx)
	}
	return s.repo.ListByIDs(ctx, scope.IDs)
}

// ListManagers returns active principals eligible as assignment targets or
// managers: active-Role holders with full access or the team-manager flag,
// plus legacy-only principals carrying a manager-equivalent tag.
func (s *Service) ListManagers(ctx context.Context) ([]identity.Principal, error) {
	return s.repo.ListManagers(ctx)
}

// ListEmployees returns active principals that are not managers.
func (s *Service) ListEmployees(ctx context.Context) ([]identity.Principal, error) {
	return s.repo.ListEmployees(ctx)
}

// CanManageUser decides whether the actor may read the target. Self access is
// always granted; full access or Users-Update manages anyone; Users-Read only
// reaches targets the actor created or manages.
func (s *Service) CanManageUser(ctx context.Context, actor *identity.Principal, targetID int64) (bool, error) {
	if actor == nil {
		return false, nil
	}
	if actor.ID == targetID {
		return true, nil
	}
	if identity.HasFullAccess(actor) || identity.HasPermission(actor, identity.ModuleUsers, identity.ActionUpdate) {
		return true, nil
	}
	if identity.HasPermission(actor, identity.ModuleUsers, identity.ActionRead) {
		return s.repo.IsCreatorOrManager(ctx, actor.ID, targetID)
	}
	return false, nil
}

// GetUser fetches the target after the management guard passes. A vanished
// target is a 404-class error even for privileged actors.
func (s *Service) GetUser(ctx context.Context, actor *identity.Principal, targetID int64) (*identity.Principal, error) {
	ok, err := s.CanManageUser(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCannotManage
	}
	return s.repo.FindByID(ctx, targetID)
}

// CreateUser provisions a new principal. The display name is title-cased, the
// password is hashed, created-by points at the actor and the super-admin
// owner is inherited down the creation chain.
func (s *Service) CreateUser(ctx context.Context, actor *identity.Principal, input CreateInput) (*identity.Principal, error) {
	if !input.LegacyRole.Valid() {
		return nil, ErrInvalidLegacyRole
	}
	// Binding a role at creation is equivalent to a role update; Users-Create
	// alone must not pre-provision permissions.
	if input.RoleID != nil && !canAdministerUsers(actor) {
		return nil, ErrRestrictedFields
	}
	if input.LegacyRole == identity.LegacySuperAdmin {
		count, err := s.repo.CountLegacySuperAdmins(ctx)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrSuperAdminExists
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	p := identity.Principal{
		Name:         s.titler.String(strings.TrimSpace(input.Name)),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: string(hash),
		LegacyRole:   input.LegacyRole,
		IsActive:     true,
		RoleID:       input.RoleID,
		CreatedBy:    &actor.ID,
		SuperAdminID: superAdminOwner(actor),
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor.ID, "user.created", created.ID, map[string]any{"email": created.Email})
	return created, nil
}

// UpdateUser applies a partial update to the target. Writes require self
// access, full access or the Users-Update permission. Self access covers the
// display name only: role binding and account status are administration
// fields, otherwise any principal could hand itself a full-access role.
func (s *Service) UpdateUser(ctx context.Context, actor *identity.Principal, targetID int64, input UpdateInput) (*identity.Principal, error) {
	if !canWriteUser(actor, targetID) {
		return nil, ErrCannotManage
	}
	touchesRestricted := input.IsActive != nil || input.RoleID != nil || input.RemoveRole
	if touchesRestricted && !canAdministerUsers(actor) {
		return nil, ErrRestrictedFields
	}
	target, err := s.repo.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		target.Name = s.titler.String(strings.TrimSpace(*input.Name))
	}
	if input.IsActive != nil {
		target.IsActive = *input.IsActive
	}
	if input.RemoveRole {
		target.RoleID = nil
	} else if input.RoleID != nil {
		target.RoleID = input.RoleID
	}
	updated, err := s.repo.Update(ctx, *target)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor.ID, "user.updated", updated.ID, nil)
	return updated, nil
}

// RevokeSessions force-logs-out the target by bumping its token version.
func (s *Service) RevokeSessions(ctx context.Context, actor *identity.Principal, targetID int64) error {
	if !canWriteUser(actor, targetID) {
		return ErrCannotManage
	}
	if _, err := s.repo.BumpTokenVersion(ctx, targetID); err != nil {
		return err
	}
	s.record(ctx, actor.ID, "user.sessions_revoked", targetID, nil)
	return nil
}

func canWriteUser(actor *identity.Principal, targetID int64) bool {
	if actor == nil {
		return false
	}
	if actor.ID == targetID {
		return true
	}
	return canAdministerUsers(actor)
}

// canAdministerUsers gates the security-sensitive user fields: role binding
// and activation.
func canAdministerUsers(actor *identity.Principal) bool {
	return identity.HasFullAccess(actor) ||
		identity.HasPermission(actor, identity.ModuleUsers, identity.ActionUpdate)
}

// superAdminOwner resolves the super-admin a new principal hangs under: the
// actor itself when it is the legacy superadmin, otherwise whatever owner the
// actor inherited.
func superAdminOwner(actor *identity.Principal) *int64 {
	if actor == nil {
		return nil
	}
	if actor.LegacyRole == identity.LegacySuperAdmin {
		id := actor.ID
		return &id
	}
	return actor.SuperAdminID
}

func (s *Service) record(ctx context.Context, actorID int64, action string, targetID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: fmt.Sprintf("%d", targetID),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit user action", slog.Any("error", err))
	}
}
