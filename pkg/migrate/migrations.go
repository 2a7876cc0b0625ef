// SPDX-License-Identifier: Apache-2.0

package migrate

// Migration is one step in the linear chain that takes a schema from
// Previous to Version. Version 0 is the implicit empty schema and has no
// corresponding Migration value.
//
// Every Install/Uninstall statement is executed as its own ExecContext
// call - never joined into one string. A prior version of this chain
// concatenated statements with no separator between them and shipped
// broken DDL; keeping each statement a separate slice element is the fix,
// not an implementation detail to "clean up" later.
type Migration struct {
	Version   int
	Previous  int
	Install   []string
	Uninstall []string
}

// chain is the complete ordered list of migrations taking a fresh database
// to the current schema version. Append new versions at the end; never
// rewrite a migration that has shipped.
var chain = []Migration{
	{
		Version:  1,
		Previous: 0,
		Install: []string{
			`CREATE TABLE version (
				version INT NOT NULL,
				migrator_version TEXT NOT NULL DEFAULT '',
				migrated_on TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE queue (
				name TEXT PRIMARY KEY,
				policy TEXT NOT NULL DEFAULT 'standard'
					CHECK (policy IN ('standard', 'short', 'singleton', 'stately')),
				retry_limit INT NOT NULL DEFAULT 0,
				retry_delay INT NOT NULL DEFAULT 0,
				retry_backoff BOOLEAN NOT NULL DEFAULT false,
				expire_seconds INT NOT NULL DEFAULT 900,
				retention_minutes INT NOT NULL DEFAULT 20160,
				dead_letter TEXT REFERENCES queue (name),
				data_schema JSONB,
				created_on TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE job (
				id UUID NOT NULL,
				name TEXT NOT NULL REFERENCES queue (name),
				data JSONB NOT NULL DEFAULT '{}'::jsonb,
				priority INT NOT NULL DEFAULT 0,
				state TEXT NOT NULL DEFAULT 'created'
					CHECK (state IN ('created', 'retry', 'active', 'completed', 'cancelled', 'failed')),
				retry_limit INT NOT NULL DEFAULT 0,
				retry_count INT NOT NULL DEFAULT 0,
				retry_delay INT NOT NULL DEFAULT 0,
				retry_backoff BOOLEAN NOT NULL DEFAULT false,
				start_after TIMESTAMPTZ NOT NULL DEFAULT now(),
				started_on TIMESTAMPTZ,
				singleton_key TEXT,
				singleton_on TIMESTAMPTZ,
				expire_in INTERVAL NOT NULL DEFAULT interval '15 minutes',
				created_on TIMESTAMPTZ NOT NULL DEFAULT now(),
				completed_on TIMESTAMPTZ,
				keep_until TIMESTAMPTZ NOT NULL DEFAULT now() + interval '14 days',
				output JSONB,
				dead_letter TEXT,
				policy TEXT NOT NULL DEFAULT 'standard',
				PRIMARY KEY (name, id)
			) PARTITION BY LIST (name)`,
			`CREATE INDEX job_fetch_idx ON job (name, state, start_after)`,
			`CREATE TABLE archive (
				id UUID NOT NULL,
				name TEXT NOT NULL,
				data JSONB NOT NULL,
				priority INT NOT NULL,
				state TEXT NOT NULL,
				retry_limit INT NOT NULL,
				retry_count INT NOT NULL,
				retry_delay INT NOT NULL,
				retry_backoff BOOLEAN NOT NULL,
				start_after TIMESTAMPTZ NOT NULL,
				started_on TIMESTAMPTZ,
				singleton_key TEXT,
				singleton_on TIMESTAMPTZ,
				expire_in INTERVAL NOT NULL,
				created_on TIMESTAMPTZ NOT NULL,
				completed_on TIMESTAMPTZ,
				keep_until TIMESTAMPTZ NOT NULL,
				output JSONB,
				dead_letter TEXT,
				policy TEXT NOT NULL,
				archived_on TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (name, id)
			)`,
			`CREATE TABLE subscription (
				event TEXT NOT NULL,
				name TEXT NOT NULL REFERENCES queue (name),
				created_on TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (event, name)
			)`,
		},
		Uninstall: []string{
			`DROP TABLE IF EXISTS subscription`,
			`DROP TABLE IF EXISTS archive`,
			`DROP TABLE IF EXISTS job`,
			`DROP TABLE IF EXISTS queue`,
			`DROP TABLE IF EXISTS version`,
		},
	},
}
