package main

import (
	"fmt"
	"os"

	"github.com/zerobrew/zerobrew/internal/config"
	"github.com/zerobrew/zerobrew/internal/db"
	"github.com/zerobrew/zerobrew/internal/download"
	"github.com/zerobrew/zerobrew/internal/installer"
	"github.com/zerobrew/zerobrew/internal/layout"
	"github.com/zerobrew/zerobrew/internal/store"
)

// app wires every collaborator needed by the CLI layer from resolved
// configuration, and owns closing what it opened.
type app struct {
	cfg *config.Config
	db  *db.Database

	inst *installer.Installer
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := ensureInit(cfg); err != nil {
		return nil, err
	}

	database, err := db.Open(layout.DatabasePath(cfg.Root))
	if err != nil {
		return nil, err
	}

	blobs, err := store.New(cfg.Root)
	if err != nil {
		database.Close()
		return nil, err
	}

	inst := installer.New(cfg.Root, cfg.Prefix, database, blobs, download.New())

	return &app{cfg: cfg, db: database, inst: inst}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// ensureInit creates <root> and <prefix> on first run, matching the
// teacher's lazy-bootstrap idiom rather than requiring a separate `init`
// step before any other command can run.
func ensureInit(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return fmt.Errorf("creating root %s: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(cfg.Prefix, 0o755); err != nil {
		return fmt.Errorf("creating prefix %s: %w", cfg.Prefix, err)
	}
	return nil
}
