package app

import (
	"context"
	"os"
	"testing"

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/migrate"
	"formline/internal/repo"
)

func TestResolveConfigSeedsFromFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("Spring Gala")), 0o644); err != nil {
		t.Fatal(err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	r := repo.Repo{DB: conn}
	cfg, err := ResolveConfig(ctx, dir, "tester", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Event.Name != "Spring Gala" {
		t.Fatalf("event name = %q", cfg.Event.Name)
	}
	ok, err := r.RoleHasPermission(ctx, nil, "admin", "tickets.verify")
	if err != nil || !ok {
		t.Fatalf("admin permissions not synced: %v %v", ok, err)
	}

	// Later edits to the file are ignored until imported explicitly.
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("Other")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = ResolveConfig(ctx, dir, "tester", r)
	if err != nil || cfg.Event.Name != "Spring Gala" {
		t.Fatalf("stored config not reused: %+v %v", cfg, err)
	}
}

func TestOpenEngineDefaults(t *testing.T) {
	ctx := context.Background()
	e, err := OpenEngine(ctx, t.TempDir(), "tester")
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	defer e.DB.Close()
	if e.Config.Event.Name != "Student Formal" || !e.Config.Forms.Builtin {
		t.Fatalf("unexpected default config %+v", e.Config)
	}
}
