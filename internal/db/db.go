// Package db implements the Database component: a single embedded SQLite
// catalog matching the InstalledKeg/StoreRef/LinkedFile entities, with
// scoped transactions for the install/uninstall write path and
// non-blocking readers for everything else.
package db

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zerobrew/zerobrew/internal/zberr"
)

const schema = `
CREATE TABLE IF NOT EXISTS installed_kegs (
	name TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	store_key TEXT NOT NULL,
	installed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS store_refs (
	store_key TEXT PRIMARY KEY,
	refcount INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS keg_files (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	linked_path TEXT NOT NULL,
	target_path TEXT NOT NULL,
	PRIMARY KEY (name, linked_path)
);
`

// InstalledKeg is the logical {name, version, store_key, installed_at}
// record for a currently-installed package.
type InstalledKeg struct {
	Name        string
	Version     string
	StoreKey    string
	InstalledAt time.Time
}

// Database is the durable catalog: installed kegs, store refcounts, and
// linked-file inventory, backed by a single SQLite file.
type Database struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures its
// schema exists.
func Open(path string) (*Database, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to open database")
	}
	conn.SetMaxOpenConns(1) // single-threaded connection per spec §5
	conn.SetMaxIdleConns(1) // keep the one connection alive (matters for in-memory DBs)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, zberr.WrapStoreCorruption(err, "failed to initialize schema")
	}

	return &Database{conn: conn}, nil
}

// OpenInMemory opens an in-memory database with a shared cache, used by
// tests; every call within one process opens the same database.
func OpenInMemory() (*Database, error) {
	return Open("file::memory:?cache=shared")
}

// Close releases the underlying connection.
func (d *Database) Close() error {
	return d.conn.Close()
}

// Transaction opens a scoped handle for the install/uninstall write path.
// The caller must defer tx.Rollback(); calling Rollback after a successful
// Commit is a no-op, matching database/sql's own Tx semantics, so the
// standard defer-then-commit pattern gives "drop without commit rolls
// back" for free.
func (d *Database) Transaction(ctx context.Context) (*InstallTransaction, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to start transaction")
	}
	return &InstallTransaction{tx: tx}, nil
}

// GetInstalled returns the InstalledKeg for name, or (nil, nil) if absent.
func (d *Database) GetInstalled(ctx context.Context, name string) (*InstalledKeg, error) {
	return getInstalled(ctx, d.conn, name)
}

func getInstalled(ctx context.Context, q querier, name string) (*InstalledKeg, error) {
	row := q.QueryRowContext(ctx,
		`SELECT name, version, store_key, installed_at FROM installed_kegs WHERE name = ?`, name)
	keg, err := scanKeg(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to query installed keg")
	}
	return keg, nil
}

// ListInstalled returns every InstalledKeg, sorted by name ascending.
func (d *Database) ListInstalled(ctx context.Context) ([]InstalledKeg, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT name, version, store_key, installed_at FROM installed_kegs ORDER BY name`)
	if err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to query installed kegs")
	}
	defer rows.Close()

	var kegs []InstalledKeg
	for rows.Next() {
		keg, err := scanKeg(rows)
		if err != nil {
			return nil, zberr.WrapStoreCorruption(err, "failed to scan installed keg")
		}
		kegs = append(kegs, *keg)
	}
	if err := rows.Err(); err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to collect installed kegs")
	}
	return kegs, nil
}

// GetStoreRefcount returns the refcount for storeKey, or 0 if no StoreRef
// row exists.
func (d *Database) GetStoreRefcount(ctx context.Context, storeKey string) int64 {
	var refcount int64
	err := d.conn.QueryRowContext(ctx,
		`SELECT refcount FROM store_refs WHERE store_key = ?`, storeKey).Scan(&refcount)
	if err != nil {
		return 0
	}
	return refcount
}

// GetUnreferencedStoreKeys returns every StoreKey whose refcount has
// fallen to zero or below: GC candidates.
func (d *Database) GetUnreferencedStoreKeys(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT store_key FROM store_refs WHERE refcount <= 0`)
	if err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to query unreferenced keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, zberr.WrapStoreCorruption(err, "failed to scan store key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to collect unreferenced keys")
	}
	return keys, nil
}

// DeleteStoreRef removes the StoreRef row for storeKey, used by GC after
// the StoreEntry directory has been removed.
func (d *Database) DeleteStoreRef(ctx context.Context, storeKey string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM store_refs WHERE store_key = ?`, storeKey); err != nil {
		return zberr.WrapStoreCorruption(err, "failed to delete store ref")
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so the same query
// logic can run against the pool directly or against an open transaction.
// This matters with the single-connection pool (§5): querying d.conn
// while a transaction holds the only connection checked out would
// deadlock, so every read made during an install/uninstall must go
// through the transaction's own querier instead.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetLinkOwner returns the name of the package that owns linkedPath, or
// ("", false, nil) if no keg_files row references it.
func (d *Database) GetLinkOwner(ctx context.Context, linkedPath string) (string, bool, error) {
	return getLinkOwner(ctx, d.conn, linkedPath)
}

// ListLinkedFiles returns every (linked_path, target_path) recorded for
// name, used to drive unlink.
func (d *Database) ListLinkedFiles(ctx context.Context, name string) ([]LinkedFile, error) {
	return listLinkedFiles(ctx, d.conn, name)
}

func getLinkOwner(ctx context.Context, q querier, linkedPath string) (string, bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		`SELECT name FROM keg_files WHERE linked_path = ?`, linkedPath).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, zberr.WrapStoreCorruption(err, "failed to query link owner")
	}
	return name, true, nil
}

func listLinkedFiles(ctx context.Context, q querier, name string) ([]LinkedFile, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT linked_path, target_path FROM keg_files WHERE name = ?`, name)
	if err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to query linked files")
	}
	defer rows.Close()

	var files []LinkedFile
	for rows.Next() {
		var f LinkedFile
		if err := rows.Scan(&f.LinkedPath, &f.TargetPath); err != nil {
			return nil, zberr.WrapStoreCorruption(err, "failed to scan linked file")
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, zberr.WrapStoreCorruption(err, "failed to collect linked files")
	}
	return files, nil
}

// LinkedFile is a single recorded (linked_path, target_path) pair.
type LinkedFile struct {
	LinkedPath string
	TargetPath string
}

type row interface {
	Scan(dest ...any) error
}

func scanKeg(r row) (*InstalledKeg, error) {
	var keg InstalledKeg
	var installedAt int64
	if err := r.Scan(&keg.Name, &keg.Version, &keg.StoreKey, &installedAt); err != nil {
		return nil, err
	}
	keg.InstalledAt = time.Unix(installedAt, 0).UTC()
	return &keg, nil
}

// InstallTransaction is the scoped write handle for a single install or
// uninstall operation.
type InstallTransaction struct {
	tx   *sql.Tx
	done bool
}

// RecordInstall upserts installed_kegs and bumps (or initializes) the
// StoreRef refcount for storeKey.
func (t *InstallTransaction) RecordInstall(ctx context.Context, name, version, storeKey string) error {
	now := time.Now().Unix()

	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO installed_kegs (name, version, store_key, installed_at)
		 VALUES (?, ?, ?, ?)`, name, version, storeKey, now); err != nil {
		return zberr.WrapStoreCorruption(err, "failed to record install")
	}

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO store_refs (store_key, refcount) VALUES (?, 1)
		 ON CONFLICT(store_key) DO UPDATE SET refcount = refcount + 1`, storeKey); err != nil {
		return zberr.WrapStoreCorruption(err, "failed to increment store ref")
	}

	return nil
}

// RecordLinkedFile upserts a single (name, linked_path) -> target_path
// mapping into keg_files.
func (t *InstallTransaction) RecordLinkedFile(ctx context.Context, name, version, linkedPath, targetPath string) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO keg_files (name, version, linked_path, target_path)
		 VALUES (?, ?, ?, ?)`, name, version, linkedPath, targetPath); err != nil {
		return zberr.WrapStoreCorruption(err, "failed to record linked file")
	}
	return nil
}

// RecordUninstall deletes the installed_kegs row and all keg_files rows
// for name, decrements the StoreRef refcount, and returns the StoreKey
// that was referenced so the caller can schedule GC.
func (t *InstallTransaction) RecordUninstall(ctx context.Context, name string) (string, error) {
	var storeKey string
	err := t.tx.QueryRowContext(ctx,
		`SELECT store_key FROM installed_kegs WHERE name = ?`, name).Scan(&storeKey)
	hadStoreKey := err == nil
	if err != nil && err != sql.ErrNoRows {
		return "", zberr.WrapStoreCorruption(err, "failed to look up store key")
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM installed_kegs WHERE name = ?`, name); err != nil {
		return "", zberr.WrapStoreCorruption(err, "failed to remove install record")
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM keg_files WHERE name = ?`, name); err != nil {
		return "", zberr.WrapStoreCorruption(err, "failed to remove keg files records")
	}

	if hadStoreKey {
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE store_refs SET refcount = refcount - 1 WHERE store_key = ?`, storeKey); err != nil {
			return "", zberr.WrapStoreCorruption(err, "failed to decrement store ref")
		}
	}

	return storeKey, nil
}

// GetInstalled reads within the open transaction, avoiding the deadlock
// that would result from querying the database's own connection pool
// while this transaction holds the pool's single connection.
func (t *InstallTransaction) GetInstalled(ctx context.Context, name string) (*InstalledKeg, error) {
	return getInstalled(ctx, t.tx, name)
}

// GetLinkOwner reads within the open transaction; see GetInstalled.
func (t *InstallTransaction) GetLinkOwner(ctx context.Context, linkedPath string) (string, bool, error) {
	return getLinkOwner(ctx, t.tx, linkedPath)
}

// ListLinkedFiles reads within the open transaction; see GetInstalled.
func (t *InstallTransaction) ListLinkedFiles(ctx context.Context, name string) ([]LinkedFile, error) {
	return listLinkedFiles(ctx, t.tx, name)
}

// Commit makes every write performed on this transaction visible to
// readers. After Commit, Rollback is a no-op.
func (t *InstallTransaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return zberr.WrapStoreCorruption(err, "failed to commit transaction")
	}
	return nil
}

// Rollback discards every write performed on this transaction. Safe to
// call unconditionally via defer; a no-op if Commit already succeeded.
func (t *InstallTransaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return zberr.WrapStoreCorruption(err, "failed to roll back transaction")
	}
	return nil
}
