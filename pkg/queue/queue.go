// SPDX-License-Identifier: Apache-2.0

// Package queue owns queue metadata: creation, mutation, deletion, and the
// partition DDL each of those implies. It wraps the pure statements built by
// pkg/plan with a real *sql.DB and the validation spec.md §7 requires at the
// boundary.
package queue

import (
	"database/sql"
	"time"
)

// Queue is a named configuration row controlling how jobs sent to it are
// deduplicated, retried, expired, and archived.
type Queue struct {
	Name             string
	Policy           Policy
	RetryLimit       int
	RetryDelay       int // seconds
	RetryBackoff     bool
	ExpireSeconds    int
	RetentionMinutes int
	DeadLetter       sql.NullString
	// DataSchema is an optional JSON Schema (draft 2020-12) that every job
	// sent to this queue must validate against. This is additive: the
	// original contract has no equivalent, but santhosh-tekuri/jsonschema/v6
	// is already part of the dependency stack for exactly this purpose.
	DataSchema sql.NullString
	CreatedOn  time.Time
}

// Options carries the caller-supplied fields of createQueue/updateQueue; zero
// values mean "use the built-in default" and are resolved by Registry before
// the row is written.
type Options struct {
	Policy           Policy
	RetryLimit       *int
	RetryDelay       *int
	RetryBackoff     *bool
	ExpireSeconds    *int
	RetentionMinutes *int
	DeadLetter       *string
	DataSchema       *string
}

const (
	DefaultRetryLimit       = 0
	DefaultRetryDelay       = 0
	DefaultRetryBackoff     = false
	DefaultExpireSeconds    = 15 * 60
	DefaultRetentionMinutes = 14 * 24 * 60
)
