// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duraq/duraq/pkg/events"
	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/queue"
)

// State is a worker's position in its own, independent lifecycle - distinct
// from any job.State.
type State string

const (
	StateCreated  State = "created"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Handler processes a batch of jobs claimed together. Its return value is
// stored as the completed jobs' output only when the batch size is 1;
// otherwise the return value is discarded and jobs complete with a nil
// output. A returned error fails the entire batch.
type Handler func(ctx context.Context, jobs []*job.Job) (interface{}, error)

// wipEmitInterval is the minimum spacing between work-in-progress events a
// single worker emits, per spec.
const wipEmitInterval = 2 * time.Second

// Worker polls one queue on an interval, claiming batches and invoking a
// handler under a deadline derived from the queue's configured expiration.
type Worker struct {
	ID      string
	Name    string
	Options Options

	store  *job.Store
	queues *queue.Registry
	bus    *events.Bus
	handler Handler

	mu            sync.Mutex
	state         State
	jobs          map[string]struct{}
	createdOn     time.Time
	lastFetchedOn time.Time
	lastJobStartedOn time.Time
	lastJobEndedOn   time.Time
	lastError        string
	lastErrorOn      time.Time
	lastWipEmittedOn time.Time

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Worker polling queue name. Call Run to start its loop.
func New(name string, opts Options, store *job.Store, queues *queue.Registry, bus *events.Bus, handler Handler) *Worker {
	return &Worker{
		ID:       uuid.NewString(),
		Name:     name,
		Options:  opts.withDefaults(),
		store:    store,
		queues:   queues,
		bus:      bus,
		handler:  handler,
		state:    StateCreated,
		jobs:     make(map[string]struct{}),
		createdOn: time.Now(),
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Notify wakes the worker immediately instead of waiting out its polling
// interval.
func (w *Worker) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

// Stop requests the worker shut down at its next safe point and blocks
// until it does.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopped || w.state == StateStopping {
		w.mu.Unlock()
		<-w.doneCh
		return
	}
	w.state = StateStopping
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// InFlightJobIDs returns a snapshot of the ids this worker currently has
// claimed and is running a handler against. Used by the manager's ungraceful
// shutdown path, which needs to fail jobs no running handler will ever
// report back on.
func (w *Worker) InFlightJobIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.jobs))
	for id := range w.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the work-in-progress entry describing this worker's
// current state, for callers that need it outside the normal throttled
// emitWip cadence (e.g. a final wip report on ungraceful shutdown).
func (w *Worker) Snapshot() events.WipEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return events.WipEntry{
		ID:   w.ID,
		Name: w.Name,
		Options: events.WorkerOptions{
			Interval:        w.Options.Interval,
			BatchSize:       w.Options.BatchSize,
			Priority:        w.Options.Priority,
			IncludeMetadata: w.Options.IncludeMetadata,
		},
		State:            string(w.state),
		Count:            len(w.jobs),
		CreatedOn:        w.createdOn,
		LastFetchedOn:    w.lastFetchedOn,
		LastJobStartedOn: w.lastJobStartedOn,
		LastJobEndedOn:   w.lastJobEndedOn,
		LastError:        w.lastError,
		LastErrorOn:      w.lastErrorOn,
	}
}

// Run executes the polling loop until Stop is called or ctx is cancelled.
// Intended to be started in its own goroutine by the manager.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	w.state = StateActive
	w.mu.Unlock()
	defer close(w.doneCh)
	defer w.setState(StateStopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		jobs, err := w.store.FetchNext(ctx, w.Name, w.Options.BatchSize, w.Options.Priority)
		w.mu.Lock()
		w.lastFetchedOn = time.Now()
		w.mu.Unlock()

		if err != nil {
			w.recordError(err.Error())
		}

		if len(jobs) == 0 {
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		w.runBatch(ctx, jobs)
	}
}

// sleep waits for the polling interval, a Notify(), a Stop(), or ctx
// cancellation, returning false when the loop should exit.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.Options.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-w.notifyCh:
		return true
	case <-timer.C:
		return true
	}
}

func (w *Worker) runBatch(ctx context.Context, jobs []*job.Job) {
	ids := make([]string, len(jobs))
	w.mu.Lock()
	for i, j := range jobs {
		ids[i] = j.ID
		w.jobs[j.ID] = struct{}{}
	}
	w.lastJobStartedOn = time.Now()
	w.mu.Unlock()

	w.emitWip(jobs)

	deadline := maxExpireIn(jobs)
	handlerCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resultCh := make(chan handlerResult, 1)
	go func() {
		output, err := w.invokeHandler(handlerCtx, jobs)
		resultCh <- handlerResult{output: output, err: err}
	}()

	var result handlerResult
	select {
	case result = <-resultCh:
	case <-handlerCtx.Done():
		result = handlerResult{err: fmt.Errorf("handler execution exceeded %dms", deadline.Milliseconds())}
		// The handler goroutine is intentionally left running; its result,
		// once it arrives, is discarded by nobody reading resultCh further.
	}

	w.mu.Lock()
	for _, id := range ids {
		delete(w.jobs, id)
	}
	w.lastJobEndedOn = time.Now()
	w.mu.Unlock()

	if result.err != nil {
		w.recordError(result.err.Error())
		if _, err := w.store.Fail(ctx, w.Name, ids, result.err); err != nil {
			w.recordError(err.Error())
		}
		w.bus.EmitError(events.ErrorEvent{Message: result.err.Error(), Queue: w.Name, Worker: w.ID})
		return
	}

	var output json.RawMessage
	if len(jobs) == 1 && result.output != nil {
		if b, err := json.Marshal(result.output); err == nil {
			output = b
		}
	}
	if _, err := w.store.Complete(ctx, w.Name, ids, output); err != nil {
		w.recordError(err.Error())
		w.bus.EmitError(events.ErrorEvent{Message: err.Error(), Queue: w.Name, Worker: w.ID})
	}
}

type handlerResult struct {
	output interface{}
	err    error
}

// invokeHandler runs the user handler, converting a panic into an error
// carrying the captured stack trace rather than crashing the worker
// goroutine.
func (w *Worker) invokeHandler(ctx context.Context, jobs []*job.Job) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return w.handler(ctx, jobs)
}

// maxExpireIn returns the longest handler deadline among a batch's jobs.
func maxExpireIn(jobs []*job.Job) time.Duration {
	max := jobs[0].ExpireIn
	for _, j := range jobs[1:] {
		if j.ExpireIn > max {
			max = j.ExpireIn
		}
	}
	return max
}

func (w *Worker) recordError(msg string) {
	w.mu.Lock()
	w.lastError = msg
	w.lastErrorOn = time.Now()
	w.mu.Unlock()
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) emitWip(jobs []*job.Job) {
	w.mu.Lock()
	since := time.Since(w.lastWipEmittedOn)
	if since < wipEmitInterval {
		w.mu.Unlock()
		return
	}
	w.lastWipEmittedOn = time.Now()
	w.mu.Unlock()

	w.bus.EmitWip([]events.WipEntry{w.Snapshot()})
}
