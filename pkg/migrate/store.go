// SPDX-License-Identifier: Apache-2.0

// Package migrate takes a schema from empty to the current job-queue schema
// version through a linear, in-code chain of migrations, each applied in its
// own transaction under a transaction-scoped advisory lock
// (pg_advisory_xact_lock) so concurrent manager startups never race. The
// lock is released when that migration's transaction ends; no session-level
// lock is held across migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/lib/pq"

	"github.com/duraq/duraq/pkg/db"
)

// Store wraps a database handle and the schema it migrates.
type Store struct {
	db            *db.RDB
	schema        string
	binaryVersion string
}

// New opens a connection to pgURL, pinning its search_path to schema, and
// returns a Store ready to migrate it. binaryVersion is stamped onto every
// migration this Store applies, and is what a later process's
// CheckVersionCompatibility call compares itself against.
func New(ctx context.Context, pgURL, schema, binaryVersion string) (*Store, error) {
	dsn, err := db.WithSearchPath(pgURL, schema)
	if err != nil {
		return nil, fmt.Errorf("setting search_path: %w", err)
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}

	return &Store{db: &db.RDB{DB: conn}, schema: schema, binaryVersion: binaryVersion}, nil
}

// SchemaVersion returns the binary release version recorded by whichever
// process last applied a migration against this schema, or "" if the
// schema has never been migrated.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	exists, err := s.versionTableExists(ctx)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}

	var version string
	row := s.db.DB.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT migrator_version FROM %s.version ORDER BY migrated_on DESC LIMIT 1", pq.QuoteIdentifier(s.schema)))
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return version, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Schema returns the schema this store migrates.
func (s *Store) Schema() string {
	return s.schema
}

// advisoryLockKey derives the pg_advisory_xact_lock key from the schema
// name, so migrations against different schemas never contend with each
// other but two processes migrating the same schema always serialize.
func advisoryLockKey(schema string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("duraq.migrate:" + schema))
	return int64(h.Sum64())
}

// CurrentVersion returns the schema's currently applied version, or 0 if
// the schema has not been initialized yet.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	exists, err := s.versionTableExists(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	row := s.db.DB.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT version FROM %s.version ORDER BY migrated_on DESC LIMIT 1", pq.QuoteIdentifier(s.schema)))
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func (s *Store) versionTableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.DB.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = 'version'
	)`, s.schema).Scan(&exists)
	return exists, err
}

// byVersion finds the migration that takes the schema to version v.
func byVersion(v int) (Migration, bool) {
	for _, m := range chain {
		if m.Version == v {
			return m, true
		}
	}
	return Migration{}, false
}

// Next applies the single migration immediately following the schema's
// current version. Returns ErrNotFound if the chain has no next step.
func (s *Store) Next(ctx context.Context) error {
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range chain {
		if m.Previous == current {
			return s.apply(ctx, m)
		}
	}
	return fmt.Errorf("%w: no migration follows version %d", ErrNotFound, current)
}

// Rollback undoes the migration that produced the schema's current version,
// returning it to that migration's Previous version.
func (s *Store) Rollback(ctx context.Context) error {
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	m, ok := byVersion(current)
	if !ok {
		return fmt.Errorf("%w: no migration produced version %d", ErrNotFound, current)
	}
	return s.unapply(ctx, m)
}

// Migrate advances the schema from version `from` to the latest version in
// the chain. It reproduces a quirk of the source system faithfully: it
// applies every migration whose Previous is >= from, in ascending Version
// order, rather than walking a strictly contiguous chain starting exactly
// at `from`. On a chain that has never branched or been rolled back out of
// order, the two behave identically; the distinction only matters for a
// schema sitting at an intermediate, non-latest version with a chain that
// has more than one branch below `from` - a situation normal operation
// does not produce, but that this code deliberately does not special-case.
func (s *Store) Migrate(ctx context.Context, from int) (int, error) {
	var toApply []Migration
	for _, m := range chain {
		if m.Previous >= from {
			toApply = append(toApply, m)
		}
	}
	sort.Slice(toApply, func(i, j int) bool { return toApply[i].Version < toApply[j].Version })

	applied := 0
	for _, m := range toApply {
		if err := s.apply(ctx, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// apply runs m.Install under an advisory lock, asserting the stored version
// equals m.Previous before executing and bumping it to m.Version on
// success.
func (s *Store) apply(ctx context.Context, m Migration) error {
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey(s.schema)); err != nil {
			return err
		}

		if err := s.ensureSchema(ctx, tx); err != nil {
			return err
		}

		current, err := s.currentVersionTx(ctx, tx)
		if err != nil {
			return err
		}
		if current != m.Previous {
			return fmt.Errorf("%w: schema %q is at version %d, migration expects %d",
				ErrVersionMismatch, s.schema, current, m.Previous)
		}

		for _, stmt := range m.Install {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %d: %w", m.Version, err)
			}
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s.version (version, migrator_version) VALUES ($1, $2)", pq.QuoteIdentifier(s.schema)),
			m.Version, s.binaryVersion)
		return err
	})
}

// ensureSchema creates the target schema if it doesn't already exist. The
// version table itself is created by migration 1's own Install statement.
func (s *Store) ensureSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(s.schema)))
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) currentVersionTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = 'version'
	)`, s.schema).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT version FROM %s.version ORDER BY migrated_on DESC LIMIT 1", pq.QuoteIdentifier(s.schema)))
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// unapply runs m.Uninstall under an advisory lock, asserting the stored
// version equals m.Version before executing and resetting it to m.Previous
// on success.
func (s *Store) unapply(ctx context.Context, m Migration) error {
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey(s.schema)); err != nil {
			return err
		}

		current, err := s.currentVersionTx(ctx, tx)
		if err != nil {
			return err
		}
		if current != m.Version {
			return fmt.Errorf("%w: schema %q is at version %d, rollback expects %d",
				ErrVersionMismatch, s.schema, current, m.Version)
		}

		for _, stmt := range m.Uninstall {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("rolling back migration %d: %w", m.Version, err)
			}
		}

		if m.Previous == 0 {
			// The version table itself was dropped by Uninstall; nothing
			// left to record.
			return nil
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s.version (version, migrator_version) VALUES ($1, $2)", pq.QuoteIdentifier(s.schema)),
			m.Previous, s.binaryVersion)
		return err
	})
}
