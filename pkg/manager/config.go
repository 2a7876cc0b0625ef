// SPDX-License-Identifier: Apache-2.0

package manager

import "time"

// Config carries every manager-level setting the spec recognizes. Fields
// left at their zero value fall back to the listed default.
type Config struct {
	// Schema is the Postgres schema the manager's tables live in. Defaults
	// to "public".
	Schema string

	// PollingInterval is the default interval new workers poll at when
	// they don't specify their own. Defaults to 2s.
	PollingInterval time.Duration

	// ExpireInDefault is the handler deadline applied to queues that don't
	// set their own expire_seconds. Defaults to 15m.
	ExpireInDefault time.Duration
	// KeepUntilDefault is the archival retention applied to queues that
	// don't set their own retention_minutes. Defaults to 14 days.
	KeepUntilDefault time.Duration

	RetryLimitDefault   int
	RetryDelayDefault   int
	RetryBackoffDefault bool

	// ArchiveCompletedAfter controls how often the background archival
	// sweep runs. Defaults to 1h.
	ArchiveCompletedAfter time.Duration
	// MonitorStateInterval controls how often the queue-metadata cache is
	// refreshed. Defaults to 60s.
	MonitorStateInterval time.Duration

	// BinaryVersion is compared against the schema's recorded migrator
	// version at startup (see pkg/migrate.CheckVersionCompatibility).
	// Empty or "development" skips the check.
	BinaryVersion string

	// LockTimeoutMs, when > 0, is set as the connection's lock_timeout
	// before any DDL or DML runs, exactly as roll.setupConn does.
	LockTimeoutMs int
	// Role, when non-empty, is SET ROLE'd on the connection after it
	// opens, exactly as roll.setupConn does.
	Role string

	// testThrowWorker, when non-empty, names a queue whose worker handler
	// always panics - a hook existing solely for exercising the worker's
	// panic-recovery path in tests.
	testThrowWorker string
}

func (c Config) withDefaults() Config {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = 2 * time.Second
	}
	if c.ExpireInDefault <= 0 {
		c.ExpireInDefault = 15 * time.Minute
	}
	if c.KeepUntilDefault <= 0 {
		c.KeepUntilDefault = 14 * 24 * time.Hour
	}
	if c.ArchiveCompletedAfter <= 0 {
		c.ArchiveCompletedAfter = time.Hour
	}
	if c.MonitorStateInterval <= 0 {
		c.MonitorStateInterval = 60 * time.Second
	}
	return c
}
