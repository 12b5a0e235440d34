package auth

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	PermFormsRead          = "forms.read"
	PermFormsImport        = "forms.import"
	PermSubmissionsCreate  = "submissions.create"
	PermSubmissionsReadOwn = "submissions.read.own"
	PermSubmissionsReadAll = "submissions.read.all"
	PermTicketsReadOwn     = "tickets.read.own"
	PermTicketsReadAll     = "tickets.read.all"
	PermTicketsVerify      = "tickets.verify"
	PermTicketsPay         = "tickets.pay"
	PermGuestsManage       = "guests.manage"
	PermEventsRead         = "events.read"
	PermAPIKeysManage      = "apikeys.manage"
)

var known = map[string]bool{
	PermFormsRead: true, PermFormsImport: true,
	PermSubmissionsCreate: true, PermSubmissionsReadOwn: true, PermSubmissionsReadAll: true,
	PermTicketsReadOwn: true, PermTicketsReadAll: true, PermTicketsVerify: true, PermTicketsPay: true,
	PermGuestsManage: true, PermEventsRead: true, PermAPIKeysManage: true,
}

// Known reports whether perm is checked anywhere. Roles granting anything
// else are rejected at config load.
func Known(perm string) bool { return known[perm] }

// ForbiddenError names the permission the caller lacks.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service answers permission questions for users through their role.
type Service struct {
	DB *sql.DB
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s Service) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.DB
}

func (s Service) UserHasPermission(ctx context.Context, tx *sql.Tx, userID, perm string) (bool, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx, `
SELECT COUNT(*) FROM users u
JOIN role_permissions rp ON rp.role_id = u.role
WHERE u.id = ? AND rp.permission_id = ?`, userID, perm).Scan(&n)
	return n > 0, err
}

// UserPermissions lists what userID's role grants, sorted.
func (s Service) UserPermissions(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, `
SELECT DISTINCT rp.permission_id FROM users u
JOIN role_permissions rp ON rp.role_id = u.role
WHERE u.id = ?
ORDER BY rp.permission_id`, userID)
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

// Require returns ForbiddenError unless userID holds perm.
func (s Service) Require(ctx context.Context, userID, perm string) error {
	ok, err := s.UserHasPermission(ctx, nil, userID, perm)
	switch {
	case err != nil:
		return err
	case !ok:
		return ForbiddenError{Permission: perm}
	}
	return nil
}
