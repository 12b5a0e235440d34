package repo

import (
	"context"
	"database/sql"
	"strings"

	"formline/internal/domain"
)

// NormalizeEmail lower-cases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,email,password_hash,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, NormalizeEmail(u.Email), passwordHash, u.Role, u.CreatedAt)
	return conflictOr(err, "user "+u.Email)
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, _, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,role,created_at,password_hash FROM users WHERE id=?`, id))
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, _, err := r.GetUserCredentials(ctx, email)
	return u, err
}

// GetUserCredentials returns the user and their password hash.
func (r Repo) GetUserCredentials(ctx context.Context, email string) (domain.User, string, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,role,created_at,password_hash FROM users WHERE email=?`, NormalizeEmail(email)))
}

func (r Repo) SetUserRole(ctx context.Context, tx *sql.Tx, id, role string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email,role,created_at,password_hash FROM users ORDER BY created_at ASC, email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, _, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(s scanner) (domain.User, string, error) {
	var u domain.User
	var hash string
	err := s.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		return u, "", ErrNotFound
	}
	return u, hash, err
}
