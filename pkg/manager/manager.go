// SPDX-License-Identifier: Apache-2.0

// Package manager is the facade a process embeds to run a job queue: it
// owns the database connection, migrates the schema on startup, and hosts
// the worker registry, queue-metadata cache, and event bus every other
// package in this module is wired through.
package manager

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/duraq/duraq/pkg/db"
	"github.com/duraq/duraq/pkg/events"
	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/migrate"
	"github.com/duraq/duraq/pkg/queue"
	"github.com/duraq/duraq/pkg/worker"
)

// Manager is a long-lived process hosting N independent workers against one
// schema.
type Manager struct {
	cfg Config

	conn    *sql.DB
	rdb     *db.RDB
	migrate *migrate.Store
	queues  *queue.Registry
	jobs    *job.Store
	bus     *events.Bus

	cache *queueCache

	mu      sync.Mutex
	workers map[string]*worker.Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopped bool
}

// New opens and pings two connections to pgURL (the manager's own and the
// migration store's), applying the optional lock_timeout and role settings
// to the manager's, ready to Start. It does not migrate the schema or start
// any background goroutine; Start does.
func New(ctx context.Context, pgURL string, cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()

	conn, err := setupConn(ctx, pgURL, cfg)
	if err != nil {
		return nil, err
	}

	migrateStore, err := migrate.New(ctx, pgURL, cfg.Schema, cfg.BinaryVersion)
	if err != nil {
		return nil, fmt.Errorf("opening migration store: %w", err)
	}

	rdb := &db.RDB{DB: conn}
	queues := queue.New(rdb, cfg.Schema)
	bus := events.New()

	m := &Manager{
		cfg:     cfg,
		conn:    conn,
		rdb:     rdb,
		migrate: migrateStore,
		queues:  queues,
		jobs:    job.New(rdb, cfg.Schema, queues),
		bus:     bus,
		cache:   newQueueCache(queues, cfg.MonitorStateInterval),
		workers: make(map[string]*worker.Worker),
	}
	return m, nil
}

// Start migrates the schema to the latest version and begins the
// background queue-metadata cache refresh. Nothing except migration
// failure is fatal; a start failure leaves the Manager unusable.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.Migrate(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.runCacheRefresh(runCtx)

	m.wg.Add(1)
	go m.runArchiveSweep(runCtx)

	return nil
}

// Migrate checks the running binary's version against the schema's last
// recorded migrator version, then applies every outstanding migration.
// Returns the number of migrations applied. Called automatically by Start;
// exposed separately for the CLI's migrate subcommand, which wants the
// count without also launching the background goroutines.
func (m *Manager) Migrate(ctx context.Context) (int, error) {
	schemaVersion, err := m.migrate.SchemaVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading recorded migrator version: %w", err)
	}
	if _, err := migrate.CheckVersionCompatibility(m.cfg.BinaryVersion, schemaVersion); err != nil {
		return 0, err
	}

	current, err := m.migrate.CurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	applied, err := m.migrate.Migrate(ctx, current)
	if err != nil {
		return applied, fmt.Errorf("migrating schema: %w", err)
	}
	return applied, nil
}

// SchemaVersion returns the schema's currently applied migration version
// and the binary release version last recorded against it.
func (m *Manager) SchemaVersion(ctx context.Context) (int, string, error) {
	version, err := m.migrate.CurrentVersion(ctx)
	if err != nil {
		return 0, "", err
	}
	migrator, err := m.migrate.SchemaVersion(ctx)
	if err != nil {
		return 0, "", err
	}
	return version, migrator, nil
}

// Stop signals every worker and the cache refresh loop to shut down,
// waiting for all of them to finish before closing the database
// connection.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	workers := make([]*worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if err := m.migrate.Close(); err != nil {
		return err
	}
	return m.conn.Close()
}

func (m *Manager) runCacheRefresh(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.MonitorStateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.cache.refresh(ctx); err != nil {
				m.bus.EmitError(events.ErrorEvent{Message: fmt.Sprintf("refreshing queue cache: %v", err)})
			}
		}
	}
}

func (m *Manager) runArchiveSweep(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ArchiveCompletedAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.jobs.Archive(ctx); err != nil {
				m.bus.EmitError(events.ErrorEvent{Message: fmt.Sprintf("archiving terminal jobs: %v", err)})
			}
		}
	}
}

// setupConn opens a connection to pgURL with the schema on its search_path,
// then applies the optional lock_timeout and role settings, exactly as
// roll.setupConn does for pgroll.
func setupConn(ctx context.Context, pgURL string, cfg Config) (*sql.DB, error) {
	dsn, err := db.WithSearchPath(pgURL, cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("setting search_path: %w", err)
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if cfg.LockTimeoutMs > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout to '%dms'", cfg.LockTimeoutMs)); err != nil {
			return nil, fmt.Errorf("unable to set lock_timeout: %w", err)
		}
	}
	if cfg.Role != "" {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET ROLE %s", cfg.Role)); err != nil {
			return nil, fmt.Errorf("unable to set role to %q: %w", cfg.Role, err)
		}
	}

	return conn, nil
}

// Queues returns the manager's queue registry, for callers that need
// createQueue/updateQueue/... directly.
func (m *Manager) Queues() *queue.Registry { return m.queues }

// Jobs returns the manager's job store.
func (m *Manager) Jobs() *job.Store { return m.jobs }

// Events returns the manager's event bus.
func (m *Manager) Events() *events.Bus { return m.bus }
