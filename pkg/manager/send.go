// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/duraq/duraq/pkg/job"
)

// Send enqueues a single job on name, returning its id, or "" if the send
// was swallowed by a short/singleton/stately policy collision.
func (m *Manager) Send(ctx context.Context, name string, data json.RawMessage, opts job.InsertOptions) (string, error) {
	return m.jobs.Send(ctx, name, data, opts)
}

// SendAfter is Send with start_after pinned to after.
func (m *Manager) SendAfter(ctx context.Context, name string, data json.RawMessage, opts job.InsertOptions, after time.Time) (string, error) {
	return m.jobs.SendAfter(ctx, name, data, opts, after)
}

// SendThrottled coalesces concurrent sends within the same time bucket into
// a single job.
func (m *Manager) SendThrottled(ctx context.Context, name string, data json.RawMessage, opts job.InsertOptions, seconds int, key string) (string, error) {
	return m.jobs.SendThrottled(ctx, name, data, opts, seconds, key)
}

// SendDebounced behaves like SendThrottled but retries once into the next
// bucket on collision instead of dropping the send.
func (m *Manager) SendDebounced(ctx context.Context, name string, data json.RawMessage, opts job.InsertOptions, seconds int, key string) (string, error) {
	return m.jobs.SendDebounced(ctx, name, data, opts, seconds, key)
}

// Complete, Fail, Cancel, Resume and DeleteJob report {affected} counts per
// the public API contract; callers needing the full row set should follow
// up with GetJobByID.

func (m *Manager) Complete(ctx context.Context, name string, ids []string, output json.RawMessage) (int, error) {
	return m.jobs.Complete(ctx, name, ids, output)
}

func (m *Manager) Fail(ctx context.Context, name string, ids []string, cause error) (int, error) {
	return m.jobs.Fail(ctx, name, ids, cause)
}

func (m *Manager) Cancel(ctx context.Context, name string, ids []string) (int, error) {
	return m.jobs.Cancel(ctx, name, ids)
}

func (m *Manager) Resume(ctx context.Context, name string, ids []string) (int, error) {
	return m.jobs.Resume(ctx, name, ids)
}

func (m *Manager) DeleteJob(ctx context.Context, name string, ids []string) (int, error) {
	return m.jobs.Delete(ctx, name, ids)
}

// GetJobByID fetches a job by id, optionally including archived jobs in the
// search once it's no longer live.
func (m *Manager) GetJobByID(ctx context.Context, name, id string, includeArchive bool) (*job.Job, error) {
	return m.jobs.GetByID(ctx, name, id, includeArchive)
}
