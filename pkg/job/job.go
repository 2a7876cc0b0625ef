// SPDX-License-Identifier: Apache-2.0

// Package job owns the lifecycle of individual jobs: insertion (including
// the throttle/debounce send variants), claiming, completion, failure with
// retry/dead-letter forwarding, cancellation, resumption, and archival. It
// wraps the pure statements built by pkg/plan with a real *sql.DB.
package job

import (
	"database/sql"
	"encoding/json"
	"time"
)

// State is a job's position in its lifecycle. The zero value is not a valid
// state; every job is created with State created.
type State string

const (
	StateCreated   State = "created"
	StateRetry     State = "retry"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether s is one of the three states archival and
// deletion operate on.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Job is a single unit of work belonging to a queue.
type Job struct {
	ID           string
	Name         string
	Data         json.RawMessage
	Priority     int
	State        State
	RetryLimit   int
	RetryCount   int
	RetryDelay   int
	RetryBackoff bool
	StartAfter   time.Time
	StartedOn    sql.NullTime
	SingletonKey sql.NullString
	SingletonOn  sql.NullTime
	ExpireIn     time.Duration
	CreatedOn    time.Time
	CompletedOn  sql.NullTime
	KeepUntil    time.Time
	Output       json.RawMessage
	DeadLetter   sql.NullString
	Policy       string

	// ArchivedOn is populated only when the job was read back from the
	// archive table (Store.GetByID with includeArchive, which runs
	// plan.GetArchivedJobByID).
	ArchivedOn sql.NullTime
}

// InsertOptions carries the caller-supplied, per-send fields that override a
// queue's defaults. A nil field means "use the queue's configured default".
type InsertOptions struct {
	ID           string
	Priority     int
	StartAfter   *time.Time
	SingletonKey *string
	ExpireIn     *time.Duration
	KeepUntil    *time.Time
	RetryLimit   *int
	RetryDelay   *int
	RetryBackoff *bool

	// singletonSeconds, singletonOffset are set internally by
	// Store.SendThrottled / Store.SendDebounced; callers of Insert/Send
	// leave these at their zero values.
	singletonSeconds int
	singletonOffset  int
}
