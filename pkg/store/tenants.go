package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

func (s *Store) InsertTenant(ctx context.Context, q Querier, t *model.Tenant) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO tenants (id, name, plan, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Plan, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, q Querier, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := q.QueryRowContext(ctx,
		`SELECT id, name, plan, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Plan, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateTenantPlan(ctx context.Context, q Querier, id, plan string) error {
	res, err := q.ExecContext(ctx, `UPDATE tenants SET plan = $1 WHERE id = $2`, plan, id)
	if err != nil {
		return fmt.Errorf("update tenant plan: %w", err)
	}
	return requireOneRow(res, "tenant", id)
}

func (s *Store) InsertUser(ctx context.Context, q Querier, u *model.User) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, email, name, role, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.TenantID, u.Email, u.Name, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, q Querier, id string) (*model.User, error) {
	return s.userBy(ctx, q, `id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, q Querier, tenantID, email string) (*model.User, error) {
	return s.userBy(ctx, q, `tenant_id = $1 AND email = $2`, tenantID, email)
}

func (s *Store) userBy(ctx context.Context, q Querier, where string, args ...any) (*model.User, error) {
	var u model.User
	err := q.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, name, role, created_at FROM users WHERE `+where, args...).
		Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// DeleteUser removes a user unless they still own documents in a live state.
// Ownership of terminal documents does not block deletion; those rows keep
// the owner id for the audit trail.
func (s *Store) DeleteUser(ctx context.Context, q Querier, id string) error {
	var live int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner_id = $1 AND status IN ('DRAFT', 'READY', 'PARTIALLY_SIGNED')`,
		id).Scan(&live)
	if err != nil {
		return fmt.Errorf("count live documents: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("%w: user %s owns %d active documents", model.ErrValidation, id, live)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireOneRow(res, "user", id)
}
