// Package identity implements authentication and the authorization core:
// principal resolution, the dynamic role/permission model with its legacy
// fallbacks, and the route guards built on top of both.
package identity

import (
	"context"
	"time"
)

// LegacyRole is the original fixed role enum, retained only for principals
// that were never migrated to the dynamic Role system.
type LegacyRole string

// Legacy role tags, ordered from most to least privileged.
const (
	LegacySuperAdmin LegacyRole = "superadmin"
	LegacyAdmin      LegacyRole = "admin"
	LegacyManager    LegacyRole = "manager"
	LegacyEmployee   LegacyRole = "employee"
	LegacyTelecaller LegacyRole = "telecaller"
)

// Valid reports whether the tag belongs to the closed legacy enum.
func (r LegacyRole) Valid() bool {
	switch r {
	case LegacySuperAdmin, LegacyAdmin, LegacyManager, LegacyEmployee, LegacyTelecaller:
		return true
	}
	return false
}

// Role is a named, reusable bundle of permissions assignable to principals.
type Role struct {
	ID            int64
	Name          string
	Description   string
	FullAccess    bool
	Permissions   PermissionDoc
	IsTeamManager bool
	IsActive      bool
	IsSystem      bool
	UserCount     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Principal represents an authenticated actor. Role is pre-joined by the
// repository so permission evaluation needs no further I/O.
type Principal struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string `json:"-"`
	LegacyRole   LegacyRole
	IsActive     bool
	TokenVersion int64
	RoleID       *int64
	Role         *Role
	CreatedBy    *int64
	SuperAdminID *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoleName returns the assigned role name for audit logs, or the legacy tag
// prefixed with "legacy:" when no dynamic role is assigned.
func (p *Principal) RoleName() string {
	if p == nil {
		return ""
	}
	if p.Role != nil {
		return p.Role.Name
	}
	return "legacy:" + string(p.LegacyRole)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
