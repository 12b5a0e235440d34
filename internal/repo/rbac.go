package repo

import (
	"context"
	"database/sql"
	"sort"
)

// ReplaceRolePermissions rewrites role_permissions from roles. Roles are
// written in sorted order so repeated imports produce identical tables.
func (r Repo) ReplaceRolePermissions(ctx context.Context, tx *sql.Tx, roles map[string][]string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	roleIDs := make([]string, 0, len(roles))
	for id := range roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, roleID := range roleIDs {
		for _, perm := range roles[roleID] {
			if _, err := stmt.ExecContext(ctx, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// RoleHasPermission checks a single grant.
func (r Repo) RoleHasPermission(ctx context.Context, tx *sql.Tx, roleID, perm string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_permissions WHERE role_id=? AND permission_id=?`, roleID, perm).Scan(&n)
	return n > 0, err
}

// RolePermissions lists the grants of roleID, sorted.
func (r Repo) RolePermissions(ctx context.Context, tx *sql.Tx, roleID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id=? ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
