package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence. Roles are joined in the
// same query so permission-relevant listings need no second round trip.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `
	u.id, u.name, u.email, u.password_hash, u.legacy_role, u.is_active,
	u.token_version, u.role_id, u.created_by, u.super_admin_id,
	u.created_at, u.updated_at,
	r.id, r.name, r.description, r.full_access, r.permissions,
	r.is_team_manager, r.is_active, r.is_system`

const userFrom = ` FROM users u LEFT JOIN roles r ON r.id = u.role_id`

// managerPredicate matches principals that count as managers: an active Role
// with full access or the team-manager flag, or a role-less principal with a
// legacy manager-equivalent tag.
const managerPredicate = `(
	(r.id IS NOT NULL AND r.is_active AND (r.full_access OR r.is_team_manager))
	OR (u.role_id IS NULL AND u.legacy_role IN ('superadmin', 'admin', 'manager'))
)`

// FindByID fetches a principal with its role joined.
func (r *Repository) FindByID(ctx context.Context, id int64) (*identity.Principal, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+userColumns+userFrom+` WHERE u.id = $1`, id)
	return scanUser(row)
}

// ListAll returns every principal ordered by name.
func (r *Repository) ListAll(ctx context.Context) ([]identity.Principal, error) {
	return r.list(ctx, `SELECT`+userColumns+userFrom+` ORDER BY u.name`)
}

// ListByIDs returns the principals matching ids.
func (r *Repository) ListByIDs(ctx context.Context, ids []int64) ([]identity.Principal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT`+userColumns+userFrom+` WHERE u.id = ANY($1) ORDER BY u.name`, ids)
}

// ListManagers returns active manager principals.
func (r *Repository) ListManagers(ctx context.Context) ([]identity.Principal, error) {
	return r.list(ctx, `SELECT`+userColumns+userFrom+`
		WHERE u.is_active AND `+managerPredicate+` ORDER BY u.name`)
}

// ListEmployees returns active principals that are not managers.
func (r *Repository) ListEmployees(ctx context.Context) ([]identity.Principal, error) {
	return r.list(ctx, `SELECT`+userColumns+userFrom+`
		WHERE u.is_active AND NOT `+managerPredicate+` ORDER BY u.name`)
}

// EmployeeIDsFor returns the ids of principals the manager created or
// manages. Management edges are traversed one level, never transitively.
func (r *Repository) EmployeeIDsFor(ctx context.Context, managerID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users WHERE created_by = $1
		UNION
		SELECT employee_id FROM user_managers WHERE manager_id = $1`, managerID)
	if err != nil {
		return nil, fmt.Errorf("users: employee ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("users: employee ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsCreatorOrManager reports whether the actor created the target or is one
// of its direct managers.
func (r *Repository) IsCreatorOrManager(ctx context.Context, actorID, targetID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE id = $2 AND created_by = $1
			UNION
			SELECT 1 FROM user_managers WHERE manager_id = $1 AND employee_id = $2
		)`, actorID, targetID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("users: manager check: %w", err)
	}
	return ok, nil
}

// Create inserts a new principal.
func (r *Repository) Create(ctx context.Context, p identity.Principal) (*identity.Principal, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, legacy_role, is_active, role_id, created_by, super_admin_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, token_version, created_at, updated_at`,
		p.Name, p.Email, p.PasswordHash, p.LegacyRole, p.IsActive, p.RoleID, p.CreatedBy, p.SuperAdminID,
	).Scan(&p.ID, &p.TokenVersion, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("users: create: %w", err)
	}
	return r.FindByID(ctx, p.ID)
}

// Update persists the mutable fields of a principal.
func (r *Repository) Update(ctx context.Context, p identity.Principal) (*identity.Principal, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET name = $2, is_active = $3, role_id = $4, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.IsActive, p.RoleID)
	if err != nil {
		return nil, fmt.Errorf("users: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, shared.ErrNotFound
	}
	return r.FindByID(ctx, p.ID)
}

// CountLegacySuperAdmins counts principals carrying the superadmin tag.
func (r *Repository) CountLegacySuperAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE legacy_role = 'superadmin'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("users: count superadmins: %w", err)
	}
	return count, nil
}

// BumpTokenVersion increments the revocation counter for the target.
func (r *Repository) BumpTokenVersion(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET token_version = token_version + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING token_version`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("users: bump token version: %w", err)
	}
	return version, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]identity.Principal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []identity.Principal
	for rows.Next() {
		p, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (*identity.Principal, error) {
	var (
		p         identity.Principal
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
		return nil, fmt.Errorf("users: scan: %w", err)
	}
	if roleID != nil {
		role := identity.Role{ID: *roleID}
		if roleName != nil {
			role.Name = *roleName
		}
		if roleDesc != nil {
			role.Description = *roleDesc
		}
		role.FullAccess = fullAcc != nil && *fullAcc
		role.IsTeamManager = teamMgr != nil && *teamMgr
		role.IsActive = roleAct != nil && *roleAct
		role.IsSystem = roleSys != nil && *roleSys
		if len(permsJSON) > 0 {
			if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
				return nil, fmt.Errorf("users: decode permissions: %w", err)
			}
		}
		p.Role = &role
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
