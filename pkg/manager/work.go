// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"

	"github.com/duraq/duraq/pkg/events"
	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/worker"
)

// ErrStopped is returned by Work once the manager has been stopped. The
// send variants do not check for a stopped manager; after Stop they fail
// with the error of the closed database connection instead.
var ErrStopped = errors.New("manager is stopped")

// ErrShutdownWhileActive is the sentinel reason FailWip records against
// every job it force-fails.
var ErrShutdownWhileActive = errors.New("duraq manager shut down while active")

// Work starts a new worker polling name with opts, invoking handler for
// every claimed batch. Returns the worker's id.
func (m *Manager) Work(name string, opts worker.Options, handler worker.Handler) (string, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", ErrStopped
	}

	if m.cfg.testThrowWorker == name {
		handler = func(context.Context, []*job.Job) (interface{}, error) {
			panic("__test__throw_worker")
		}
	}

	if opts.Interval <= 0 {
		opts.Interval = m.cfg.PollingInterval
	}

	w := worker.New(name, opts, m.jobs, m.queues, m.bus, handler)
	m.workers[w.ID] = w
	m.wg.Add(1)
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer m.wg.Done()
		defer cancel()
		w.Run(ctx)

		m.mu.Lock()
		delete(m.workers, w.ID)
		m.mu.Unlock()
	}()

	return w.ID, nil
}

// OffWork stops every worker polling queue name.
func (m *Manager) OffWork(name string) error {
	return m.stopWorkers(func(w *worker.Worker) bool { return w.Name == name })
}

// OffWorkByID stops a single worker by id.
func (m *Manager) OffWorkByID(id string) error {
	return m.stopWorkers(func(w *worker.Worker) bool { return w.ID == id })
}

func (m *Manager) stopWorkers(match func(*worker.Worker) bool) error {
	m.mu.Lock()
	var matched []*worker.Worker
	for _, w := range m.workers {
		if match(w) {
			matched = append(matched, w)
		}
	}
	m.mu.Unlock()

	for _, w := range matched {
		w.Stop()
	}
	return nil
}

// NotifyWorker wakes a single worker immediately rather than waiting out
// its polling interval.
func (m *Manager) NotifyWorker(id string) {
	m.mu.Lock()
	w, ok := m.workers[id]
	m.mu.Unlock()
	if ok {
		w.Notify()
	}
}

// FailWip force-fails every job currently claimed by a worker in this
// manager's registry, recording ErrShutdownWhileActive as the cause. Unlike
// Stop, which waits for each worker's in-flight batch to run to completion
// and report its own real outcome, FailWip does not wait for anything: it
// is for an embedder that cannot afford to wait for a handler that may
// never return (process is being killed, deadline has already passed) and
// needs every in-flight job resolved to retry/failed immediately so it
// isn't left claimed forever. It is safe to call before, during, or after
// Stop.
func (m *Manager) FailWip(ctx context.Context) error {
	m.mu.Lock()
	workers := make([]*worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		ids := w.InFlightJobIDs()
		if len(ids) == 0 {
			continue
		}
		if _, err := m.jobs.Fail(ctx, w.Name, ids, ErrShutdownWhileActive); err != nil && firstErr == nil {
			firstErr = err
		}
		m.bus.EmitWip([]events.WipEntry{w.Snapshot()})
	}
	return firstErr
}
