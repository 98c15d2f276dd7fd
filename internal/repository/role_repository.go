package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/eventapp/internal/rbac"
)

type RoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{DB: db} }

// Count returns the number of rows in roles.
func (r *RoleRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&n)
	return n, err
}

// SeedIfEmpty inserts roles in one transaction unless the table already has
// rows. It reports whether anything was written.
func (r *RoleRepo) SeedIfEmpty(ctx context.Context, roles []rbac.Role) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles FOR UPDATE").Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	const q = `INSERT INTO roles (id, namespace, name, parent, is_default, is_admin, description, access)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, q,
			role.ID, string(role.Namespace), role.Name, nullString(role.Parent),
			role.IsDefault, role.IsAdmin, role.Description, role.Access); err != nil {
			return false, fmt.Errorf("insert role %s: %w", role.Scope(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// List returns every role ordered by id, ready for rbac.NewCatalog.
func (r *RoleRepo) List(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, namespace, name, parent, is_default, is_admin, description, access FROM roles ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		var (
			role   rbac.Role
			ns     string
			parent sql.NullString
		)
		if err := rows.Scan(&role.ID, &ns, &role.Name, &parent,
			&role.IsDefault, &role.IsAdmin, &role.Description, &role.Access); err != nil {
			return nil, err
		}
		role.Namespace = rbac.Namespace(ns)
		role.Parent = parent.String
		out = append(out, role)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
