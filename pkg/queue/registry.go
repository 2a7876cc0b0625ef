// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/duraq/duraq/pkg/db"
	"github.com/duraq/duraq/pkg/plan"
)

// Registry owns the queue metadata table and the partitions it implies. It
// also compiles and caches each queue's optional data schema so that repeat
// sends don't pay recompilation cost.
type Registry struct {
	db     db.DB
	schema string

	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// New returns a Registry operating against the given schema.
func New(conn db.DB, schema string) *Registry {
	return &Registry{
		db:       conn,
		schema:   schema,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Create validates and inserts a queue's metadata row, then creates its
// partition and policy-specific unique partial indexes. Fields left unset in
// opts fall back to the package defaults.
func (r *Registry) Create(ctx context.Context, name string, opts Options) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if opts.Policy == "" {
		opts.Policy = PolicyStandard
	}
	if err := ValidateOptions(name, opts); err != nil {
		return err
	}
	if opts.DataSchema != nil {
		if _, err := compileSchema(*opts.DataSchema); err != nil {
			return fmt.Errorf("compiling data schema: %w", err)
		}
	}

	retryLimit := intOr(opts.RetryLimit, DefaultRetryLimit)
	retryDelay := intOr(opts.RetryDelay, DefaultRetryDelay)
	retryBackoff := boolOr(opts.RetryBackoff, DefaultRetryBackoff)
	expireSeconds := intOr(opts.ExpireSeconds, DefaultExpireSeconds)
	retentionMinutes := intOr(opts.RetentionMinutes, DefaultRetentionMinutes)

	return r.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, plan.CreateQueue(r.schema),
			name, string(opts.Policy), retryLimit, retryDelay, retryBackoff,
			expireSeconds, retentionMinutes, nullableString(opts.DeadLetter), nullableString(opts.DataSchema))
		if err != nil {
			return fmt.Errorf("inserting queue row: %w", err)
		}

		for _, stmt := range plan.CreatePartition(r.schema, name, string(opts.Policy)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating partition: %w", err)
			}
		}
		return nil
	})
}

// Update mutates a queue's mutable fields in place. The partition and policy
// are immutable after creation; to change policy, delete and recreate the
// queue.
func (r *Registry) Update(ctx context.Context, name string, opts Options) error {
	if opts.DataSchema != nil {
		if _, err := compileSchema(*opts.DataSchema); err != nil {
			return fmt.Errorf("compiling data schema: %w", err)
		}
	}

	q, err := r.Get(ctx, name)
	if err != nil {
		return err
	}

	retryLimit := intOr(opts.RetryLimit, q.RetryLimit)
	retryDelay := intOr(opts.RetryDelay, q.RetryDelay)
	retryBackoff := boolOr(opts.RetryBackoff, q.RetryBackoff)
	expireSeconds := intOr(opts.ExpireSeconds, q.ExpireSeconds)
	retentionMinutes := intOr(opts.RetentionMinutes, q.RetentionMinutes)
	deadLetter := q.DeadLetter
	if opts.DeadLetter != nil {
		if err := ValidateOptions(name, opts); err != nil {
			return err
		}
		deadLetter = sql.NullString{String: *opts.DeadLetter, Valid: true}
	}
	dataSchema := q.DataSchema
	if opts.DataSchema != nil {
		dataSchema = sql.NullString{String: *opts.DataSchema, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, plan.UpdateQueue(r.schema),
		name, retryLimit, retryDelay, retryBackoff, expireSeconds, retentionMinutes,
		deadLetter, dataSchema)
	if err != nil {
		return fmt.Errorf("updating queue row: %w", err)
	}

	r.mu.Lock()
	delete(r.compiled, name)
	r.mu.Unlock()
	return nil
}

// Delete drops a queue's partition and metadata row. Both happen in one
// transaction so a crash between the two never leaves an orphaned partition.
func (r *Registry) Delete(ctx context.Context, name string) error {
	err := r.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, plan.DropPartition(r.schema, name)); err != nil {
			return fmt.Errorf("dropping partition: %w", err)
		}
		if _, err := tx.ExecContext(ctx, plan.DeleteQueue(r.schema), name); err != nil {
			return fmt.Errorf("deleting queue row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.compiled, name)
	r.mu.Unlock()
	return nil
}

// Get fetches a single queue's metadata row. Returns ErrNotFound if absent.
func (r *Registry) Get(ctx context.Context, name string) (*Queue, error) {
	rows, err := r.db.QueryContext(ctx, plan.GetQueue(r.schema), name)
	if err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: queue %q", ErrNotFound, name)
	}
	q, err := scanQueue(rows)
	if err != nil {
		return nil, err
	}
	return q, rows.Err()
}

// List returns every queue's metadata row, ordered by name.
func (r *Registry) List(ctx context.Context) ([]*Queue, error) {
	rows, err := r.db.QueryContext(ctx, plan.GetQueues(r.schema))
	if err != nil {
		return nil, fmt.Errorf("querying queues: %w", err)
	}
	defer rows.Close()

	var queues []*Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// Size counts a queue's non-terminal jobs, optionally restricted to jobs
// whose start_after precedes before.
func (r *Registry) Size(ctx context.Context, name string, before *sql.NullTime) (int, error) {
	table := plan.JobTableName(name)
	var args []interface{}
	args = append(args, name)

	hasBefore := before != nil && before.Valid
	if hasBefore {
		args = append(args, before.Time)
	}

	rows, err := r.db.QueryContext(ctx, plan.GetQueueSize(r.schema, table, hasBefore), args...)
	if err != nil {
		return 0, fmt.Errorf("counting queue: %w", err)
	}
	defer rows.Close()

	var count int
	if err := db.ScanFirstValue(rows, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Purge deletes every job on a queue, regardless of state.
func (r *Registry) Purge(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, plan.PurgeQueue(r.schema, plan.JobTableName(name)), name)
	return err
}

// CompiledSchema returns the compiled JSON schema for a queue's DataSchema,
// compiling and caching it on first use. Returns (nil, nil) when the queue
// has no schema.
func (r *Registry) CompiledSchema(ctx context.Context, name string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	cached, ok := r.compiled[name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	q, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !q.DataSchema.Valid {
		return nil, nil
	}

	compiled, err := compileSchema(q.DataSchema.String)
	if err != nil {
		return nil, fmt.Errorf("compiling data schema for queue %q: %w", name, err)
	}

	r.mu.Lock()
	r.compiled[name] = compiled
	r.mu.Unlock()
	return compiled, nil
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	const resourceURL = "mem://data-schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(resourceURL)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanQueue(rows scannable) (*Queue, error) {
	q := &Queue{}
	var policy string
	if err := rows.Scan(
		&q.Name, &policy, &q.RetryLimit, &q.RetryDelay, &q.RetryBackoff,
		&q.ExpireSeconds, &q.RetentionMinutes, &q.DeadLetter, &q.DataSchema, &q.CreatedOn,
	); err != nil {
		return nil, fmt.Errorf("scanning queue row: %w", err)
	}
	q.Policy = Policy(policy)
	return q, nil
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
