// Package installer implements the Installer (Orchestrator): the
// component that composes Plan → Materialize → Relocate → Link → Commit
// for an install, and its inverse for uninstall and GC.
package installer

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/zerobrew/zerobrew/internal/cellar"
	"github.com/zerobrew/zerobrew/internal/db"
	"github.com/zerobrew/zerobrew/internal/download"
	"github.com/zerobrew/zerobrew/internal/gc"
	"github.com/zerobrew/zerobrew/internal/link"
	"github.com/zerobrew/zerobrew/internal/store"
	"github.com/zerobrew/zerobrew/internal/zberr"
	"github.com/zerobrew/zerobrew/internal/zblog"
)

// Plan is the resolved set of artifacts an install or upgrade will apply,
// one per requested formula name.
type Plan struct {
	Artifacts []download.Artifact
}

// Installer wires together every collaborator needed to go from a list of
// formula names to installed, linked kegs.
type Installer struct {
	root   string
	prefix string
	db     *db.Database
	store  *store.Store
	cellar *cellar.Cellar
	linker *link.Linker
	fetch  *download.Resolver
	log    zblog.Logger
}

// New wires an Installer from its already-open collaborators.
func New(root, prefix string, database *db.Database, blobs *store.Store, fetch *download.Resolver) *Installer {
	return &Installer{
		root:   root,
		prefix: prefix,
		db:     database,
		store:  blobs,
		cellar: cellar.New(prefix),
		linker: link.New(prefix),
		fetch:  fetch,
		log:    zblog.Default(),
	}
}

// Plan resolves every name to its current bottle artifact, concurrently.
func (i *Installer) Plan(ctx context.Context, names []string) (Plan, error) {
	artifacts := make([]download.Artifact, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for idx, name := range names {
		idx, name := idx, name
		g.Go(func() error {
			artifact, err := i.fetch.Resolve(gctx, name)
			if err != nil {
				return err
			}
			artifacts[idx] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Plan{}, err
	}

	return Plan{Artifacts: artifacts}, nil
}

// Execute fetches every artifact in plan into the BlobCache (populating it
// if missing), then materializes, relocates, and — unless noLink — links
// each one, recording every effect on a single transaction committed only
// once all formulas succeed. On any error before commit, the transaction
// is rolled back and any newly created keg directories are removed.
func (i *Installer) Execute(ctx context.Context, plan Plan, noLink bool) error {
	storeKeys := make([]string, len(plan.Artifacts))

	g, gctx := errgroup.WithContext(ctx)
	for idx, artifact := range plan.Artifacts {
		idx, artifact := idx, artifact
		g.Go(func() error {
			key, err := i.populateStoreEntry(gctx, artifact)
			if err != nil {
				return err
			}
			storeKeys[idx] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tx, err := i.db.Transaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var createdKegs []string
	rollbackKegs := func() {
		for _, keg := range createdKegs {
			_ = os.RemoveAll(keg)
		}
	}

	for idx, artifact := range plan.Artifacts {
		storeKey := storeKeys[idx]
		entryDir := i.store.EntryPath(storeKey)

		existed := i.cellar.HasKeg(artifact.Name, artifact.Version)
		kegPath, err := i.cellar.Materialize(artifact.Name, artifact.Version, entryDir)
		if err != nil {
			rollbackKegs()
			return err
		}
		if !existed {
			createdKegs = append(createdKegs, kegPath)
		}

		if !noLink {
			if err := i.linker.Link(ctx, tx, artifact.Name, artifact.Version, false); err != nil {
				rollbackKegs()
				return err
			}
		}

		if err := tx.RecordInstall(ctx, artifact.Name, artifact.Version, storeKey); err != nil {
			rollbackKegs()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		rollbackKegs()
		return err
	}

	return nil
}

// populateStoreEntry fetches artifact's bottle into the BlobCache if it
// isn't already present, returning the content-addressed StoreKey.
func (i *Installer) populateStoreEntry(ctx context.Context, artifact download.Artifact) (string, error) {
	tmp, err := os.CreateTemp("", "zerobrew-bottle-*")
	if err != nil {
		return "", zberr.WrapStoreCorruption(err, "creating download temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	digest, err := i.fetch.Fetch(ctx, artifact, tmp)
	if err != nil {
		return "", err
	}

	if i.store.Has(digest) {
		return digest, nil
	}

	if _, err := tmp.Seek(0, 0); err != nil {
		return "", zberr.WrapStoreCorruption(err, "rewinding downloaded bottle")
	}

	format := store.DetectFormat(artifact.URL)
	if err := i.store.Insert(digest, format, tmp); err != nil {
		return "", err
	}

	return digest, nil
}

// Uninstall unlinks and removes each named keg in one transaction,
// returning the StoreKeys whose refcount fell to zero (GC candidates, not
// deleted here).
func (i *Installer) Uninstall(ctx context.Context, names []string, all bool) ([]string, error) {
	targets := names
	if all {
		installed, err := i.db.ListInstalled(ctx)
		if err != nil {
			return nil, err
		}
		targets = targets[:0]
		for _, keg := range installed {
			targets = append(targets, keg.Name)
		}
	}

	tx, err := i.db.Transaction(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var freedKeys []string
	for _, name := range targets {
		keg, err := tx.GetInstalled(ctx, name)
		if err != nil {
			return nil, err
		}
		if keg == nil {
			return nil, &zberr.NotInstalled{Name: name}
		}

		if err := i.linker.Unlink(ctx, tx, name); err != nil {
			return nil, err
		}
		if err := i.cellar.RemoveKeg(name, keg.Version); err != nil {
			return nil, err
		}
		storeKey, err := tx.RecordUninstall(ctx, name)
		if err != nil {
			return nil, err
		}
		freedKeys = append(freedKeys, storeKey)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var zeroKeys []string
	seen := make(map[string]bool)
	for _, key := range freedKeys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if i.db.GetStoreRefcount(ctx, key) <= 0 {
			zeroKeys = append(zeroKeys, key)
		}
	}

	return zeroKeys, nil
}

// GC fetches every StoreKey with refcount <= 0 in a single read, then
// best-effort removes each StoreEntry directory and its StoreRef row,
// never failing the whole pass because one key could not be removed.
func (i *Installer) GC(ctx context.Context) ([]string, error) {
	return gc.Sweep(ctx, i.db, i.store, i.log)
}
