package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedesk/pulsedesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `c.id, c.name, c.email, c.phone, c.created_by, c.created_at, c.updated_at`

// FindByID fetches a client by ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Client, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients c WHERE c.id = $1`, id)
	return scanClient(row)
}

// ListAll returns every client ordered by name.
func (r *Repository) ListAll(ctx context.Context) ([]Client, error) {
	return r.list(ctx, `SELECT `+clientColumns+` FROM clients c ORDER BY c.name`)
}

// ListByIDs returns the clients matching ids.
func (r *Repository) ListByIDs(ctx context.Context, ids []int64) ([]Client, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+clientColumns+` FROM clients c WHERE c.id = ANY($1) ORDER BY c.name`, ids)
}

// Create inserts a new client.
func (r *Repository) Create(ctx context.Context, c Client) (*Client, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clients (name, email, phone, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		c.Name, c.Email, c.Phone, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("clients: create: %w", err)
	}
	return &c, nil
}

// AccessibleIDs returns the ids of clients assigned to the user, optionally
// unioned with the ones the user created.
func (r *Repository) AccessibleIDs(ctx context.Context, userID int64, includeCreated bool) ([]int64, error) {
	query := `SELECT client_id FROM client_assignments WHERE user_id = $1`
	if includeCreated {
		query += ` UNION SELECT id FROM clients WHERE created_by = $1`
	}
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("clients: accessible ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("clients: accessible ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasClientAccess reports whether the user created or is assigned to the
// client.
func (r *Repository) HasClientAccess(ctx context.Context, userID, clientID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM clients WHERE id = $2 AND created_by = $1
			UNION
			SELECT 1 FROM client_assignments WHERE user_id = $1 AND client_id = $2
		)`, userID, clientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("clients: access check: %w", err)
	}
	return ok, nil
}

// UpsertAssignment creates or refreshes the (client, user) link.
func (r *Repository) UpsertAssignment(ctx context.Context, a Assignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO client_assignments (client_id, user_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (client_id, user_id)
		DO UPDATE SET assigned_by = EXCLUDED.assigned_by, assigned_at = NOW()`,
		a.ClientID, a.UserID, a.AssignedBy)
	if err != nil {
		return fmt.Errorf("clients: upsert assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes the (client, user) link, returning the number of
// rows deleted.
func (r *Repository) DeleteAssignment(ctx context.Context, clientID, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM client_assignments WHERE client_id = $1 AND user_id = $2`, clientID, userID)
	if err != nil {
		return 0, fmt.Errorf("clients: delete assignment: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListAssignees returns the assignments for a client.
func (r *Repository) ListAssignees(ctx context.Context, clientID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT client_id, user_id, assigned_by, assigned_at
		FROM client_assignments WHERE client_id = $1 ORDER BY assigned_at`, clientID)
	if err != nil {
		return nil, fmt.Errorf("clients: list assignees: %w", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ClientID, &a.UserID, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("clients: list assignees: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Client, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clients: list: %w", err)
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clients: list: %w", err)
	}
	return out, nil
}

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clients: scan: %w", err)
	}
	return &c, nil
}
