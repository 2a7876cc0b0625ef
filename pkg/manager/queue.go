// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"database/sql"

	"github.com/duraq/duraq/pkg/queue"
)

// CreateQueue validates and creates a new queue, including its partition.
// Fields opts leaves unset fall back to the manager's configured defaults
// rather than the package-level queue.Default* constants, so a process can
// tune its fleet-wide defaults through the postgres-url/...-default flags.
func (m *Manager) CreateQueue(ctx context.Context, name string, opts queue.Options) error {
	if opts.RetryLimit == nil && m.cfg.RetryLimitDefault != 0 {
		opts.RetryLimit = &m.cfg.RetryLimitDefault
	}
	if opts.RetryDelay == nil && m.cfg.RetryDelayDefault != 0 {
		opts.RetryDelay = &m.cfg.RetryDelayDefault
	}
	if opts.RetryBackoff == nil && m.cfg.RetryBackoffDefault {
		opts.RetryBackoff = &m.cfg.RetryBackoffDefault
	}
	if opts.ExpireSeconds == nil && m.cfg.ExpireInDefault > 0 {
		seconds := int(m.cfg.ExpireInDefault.Seconds())
		opts.ExpireSeconds = &seconds
	}
	if opts.RetentionMinutes == nil && m.cfg.KeepUntilDefault > 0 {
		minutes := int(m.cfg.KeepUntilDefault.Minutes())
		opts.RetentionMinutes = &minutes
	}
	return m.queues.Create(ctx, name, opts)
}

// UpdateQueue mutates a queue's mutable fields and invalidates its cached
// metadata.
func (m *Manager) UpdateQueue(ctx context.Context, name string, opts queue.Options) error {
	if err := m.queues.Update(ctx, name, opts); err != nil {
		return err
	}
	m.cache.invalidate(name)
	return nil
}

// DeleteQueue drops a queue's partition and metadata row, invalidating its
// cache entry.
func (m *Manager) DeleteQueue(ctx context.Context, name string) error {
	if err := m.queues.Delete(ctx, name); err != nil {
		return err
	}
	m.cache.invalidate(name)
	return nil
}

// GetQueue returns a queue's metadata, served from cache with a live
// fallback on miss.
func (m *Manager) GetQueue(ctx context.Context, name string) (*queue.Queue, error) {
	return m.cache.get(ctx, name)
}

// GetQueues lists every queue's metadata directly from the database.
func (m *Manager) GetQueues(ctx context.Context) ([]*queue.Queue, error) {
	return m.queues.List(ctx)
}

// GetQueueSize counts a queue's non-terminal jobs.
func (m *Manager) GetQueueSize(ctx context.Context, name string, before *sql.NullTime) (int, error) {
	return m.queues.Size(ctx, name, before)
}

// PurgeQueue deletes every job on a queue regardless of state.
func (m *Manager) PurgeQueue(ctx context.Context, name string) error {
	return m.queues.Purge(ctx, name)
}
