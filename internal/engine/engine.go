package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"formline/internal/config"
	"formline/internal/engine/auth"
	"formline/internal/events"
	"formline/internal/repo"
	"formline/internal/ticket"
)

// timeLayout keeps stored timestamps lexically ordered.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Tickets ticket.Minter
	// JWTSecret signs session tokens. Empty disables token issuing.
	JWTSecret []byte
	Now       func() time.Time
}

// New wires an engine over db. Secrets are read from the environment
// variables named in cfg.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	minter, err := ticket.NewMinter(cfg.Tickets.CodePrefix, []byte(os.Getenv(cfg.Tickets.SecretEnv)))
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Auth:      auth.Service{DB: db},
		Config:    cfg,
		Tickets:   minter,
		JWTSecret: []byte(os.Getenv(cfg.Auth.JWTSecretEnv)),
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Clock reports the engine's current time.
func (e Engine) Clock() time.Time { return e.now() }

func (e Engine) stamp() string {
	return e.now().UTC().Format(timeLayout)
}

// ImportConfig stores cfg as the workspace config and rewrites the role
// permission table from it.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfig(ctx, tx, cfg); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	roles := make(map[string][]string, len(cfg.RBAC.Roles))
	for id, role := range cfg.RBAC.Roles {
		roles[id] = role.Permissions
	}
	if err := e.Repo.ReplaceRolePermissions(ctx, tx, roles); err != nil {
		return fmt.Errorf("sync role permissions: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ConfigImported, "config", "workspace", actorID, events.EventPayload{
		"event": cfg.Event.Name,
		"roles": len(roles),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
