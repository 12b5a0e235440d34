package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"formline/internal/forms"
)

// StoredForm is a form definition with its storage timestamps.
type StoredForm struct {
	Definition *forms.Definition
	CreatedAt  string
	UpdatedAt  string
}

// UpsertForm stores a validated definition, replacing any previous version.
func (r Repo) UpsertForm(ctx context.Context, tx *sql.Tx, def *forms.Definition, now string) error {
	if err := def.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal form %s: %w", def.ID, err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO forms(id,name,lifecycle,due_date,target,definition_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, lifecycle=excluded.lifecycle, due_date=excluded.due_date,
  target=excluded.target, definition_json=excluded.definition_json, updated_at=excluded.updated_at`,
		def.ID, def.Name, string(def.Lifecycle), nullable(def.DueDate), string(def.Storage.TargetOrDefault()), string(payload), now, now)
	return err
}

func (r Repo) GetForm(ctx context.Context, id string) (StoredForm, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT definition_json,created_at,updated_at FROM forms WHERE id=?`, id)
	return scanForm(row)
}

func (r Repo) ListForms(ctx context.Context) ([]StoredForm, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT definition_json,created_at,updated_at FROM forms ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StoredForm
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanForm(s scanner) (StoredForm, error) {
	var payload string
	var f StoredForm
	err := s.Scan(&payload, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	var def forms.Definition
	if err := json.Unmarshal([]byte(payload), &def); err != nil {
		return f, fmt.Errorf("decode stored form: %w", err)
	}
	f.Definition = &def
	return f, nil
}
