package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedesk/pulsedesk/internal/shared"
)

// Repository defines the data access needed to resolve principals.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	BumpTokenVersion(ctx context.Context, id int64) (int64, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// PGRepository provides PostgreSQL backed persistence with the Role joined in
// a single query so permission evaluation stays free of further I/O.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const principalColumns = `
	u.id, u.name, u.email, u.password_hash, u.legacy_role, u.is_active,
	u.token_version, u.role_id, u.created_by, u.super_admin_id,
	u.created_at, u.updated_at,
	r.id, r.name, r.description, r.full_access, r.permissions,
	r.is_team_manager, r.is_active, r.is_system`

// FindByID fetches a principal with its role joined.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*Principal, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+principalColumns+`
		FROM users u LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1`, id)
	return scanPrincipal(row)
}

// FindByEmail fetches a principal by unique email with its role joined.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+principalColumns+`
		FROM users u LEFT JOIN roles r ON r.id = u.role_id
		WHERE lower(u.email) = lower($1)`, email)
	return scanPrincipal(row)
}

// BumpTokenVersion increments the revocation counter and returns the new
// value. Every credential minted with an older value becomes invalid.
func (r *PGRepository) BumpTokenVersion(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET token_version = token_version + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING token_version`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("identity: bump token version: %w", err)
	}
	return version, nil
}

// UpdatePassword replaces the stored credential hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("identity: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanPrincipal(row pgx.Row) (*Principal, error) {
	var (
		p         Principal
		roleID    *int64
		roleName  *string
		roleDesc  *string
		fullAcc   *bool
		permsJSON []byte
		teamMgr   *bool
		roleAct   *bool
		roleSys   *bool
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.LegacyRole, &p.IsActive,
		&p.TokenVersion, &p.RoleID, &p.CreatedBy, &p.SuperAdminID,
		&p.CreatedAt, &p.UpdatedAt,
		&roleID, &roleName, &roleDesc, &fullAcc, &permsJSON,
		&teamMgr, &roleAct, &roleSys,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: scan principal: %w", err)
	}
	if roleID != nil {
		role := Role{
			ID:            *roleID,
			Name:          derefString(roleName),
			Description:   derefString(roleDesc),
			FullAccess:    derefBool(fullAcc),
			IsTeamManager: derefBool(teamMgr),
			IsActive:      derefBool(roleAct),
			IsSystem:      derefBool(roleSys),
		}
		if len(permsJSON) > 0 {
			if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
				return nil, fmt.Errorf("identity: decode permissions: %w", err)
			}
		}
		p.Role = &role
	}
	return &p, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	return b != nil && *b
}
