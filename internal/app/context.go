package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/engine"
	"formline/internal/events"
	"formline/internal/migrate"
	"formline/internal/repo"
)

// ResolveConfig returns the workspace config stored in the database. On
// first use it is seeded from formline.yml when present, otherwise from
// the default template, and the role permission table is synced.
func ResolveConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seedCfg, err := seedConfig(workspace)
	if err != nil {
		return nil, err
	}
	if err := storeConfig(ctx, r, seedCfg, actorID); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return seedCfg, nil
}

func seedConfig(workspace string) (*config.Config, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.FromFile(path)
}

func storeConfig(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertConfig(ctx, tx, cfg); err != nil {
		return err
	}
	roles := make(map[string][]string, len(cfg.RBAC.Roles))
	for id, role := range cfg.RBAC.Roles {
		roles[id] = role.Permissions
	}
	if err := r.ReplaceRolePermissions(ctx, tx, roles); err != nil {
		return err
	}
	w := events.Writer{DB: r.DB}
	if err := w.Append(ctx, tx, events.ConfigImported, "config", "workspace", actorID, events.EventPayload{"seeded": true}); err != nil {
		return err
	}
	return tx.Commit()
}

// OpenEngine opens and migrates the workspace database and returns an
// engine over its config. Callers close e.DB.
func OpenEngine(ctx context.Context, workspace, actorID string) (engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveConfig(ctx, workspace, actorID, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	return e, nil
}
