package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedesk/pulsedesk/internal/identity"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `
	r.id, r.name, r.description, r.full_access, r.permissions,
	r.is_team_manager, r.is_active, r.is_system, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM users u WHERE u.role_id = r.id) AS user_count`

// ListRoles returns all roles ordered by name, with holder counts.
func (r *Repository) ListRoles(ctx context.Context) ([]identity.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var roles []identity.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	return roles, nil
}

// GetRole fetches a role by ID with its holder count.
func (r *Repository) GetRole(ctx context.Context, id int64) (identity.Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+roleColumns+` FROM roles r WHERE r.id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Role{}, ErrNotFound
	}
	return role, err
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role identity.Role) (identity.Role, error) {
	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return identity.Role{}, fmt.Errorf("roles: encode permissions: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, full_access, permissions, is_team_manager, is_active, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING id, created_at, updated_at`,
		role.Name, role.Description, role.FullAccess, permsJSON, role.IsTeamManager, role.IsActive)
	if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return identity.Role{}, ErrNameTaken
		}
		return identity.Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return role, nil
}

// UpdateRole updates an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role identity.Role) (identity.Role, error) {
	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return identity.Role{}, fmt.Errorf("roles: encode permissions: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, full_access = $4, permissions = $5,
			is_team_manager = $6, is_active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		role.ID, role.Name, role.Description, role.FullAccess, permsJSON, role.IsTeamManager, role.IsActive)
	if err := row.Scan(&role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Role{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return identity.Role{}, ErrNameTaken
		}
		return identity.Role{}, fmt.Errorf("roles: update: %w", err)
	}
	return role, nil
}

// DeleteRole removes a role by ID, returning the number of rows deleted.
func (r *Repository) DeleteRole(ctx context.Context, id int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("roles: delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRole(row pgx.Row) (identity.Role, error) {
	var (
		role      identity.Role
		permsJSON []byte
	)
	err := row.Scan(
		&role.ID, &role.Name, &role.Description, &role.FullAccess, &permsJSON,
		&role.IsTeamManager, &role.IsActive, &role.IsSystem,
		&role.CreatedAt, &role.UpdatedAt, &role.UserCount,
	)
	if err != nil {
		return identity.Role{}, err
	}
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
			return identity.Role{}, fmt.Errorf("roles: decode permissions: %w", err)
		}
	}
	return role, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
