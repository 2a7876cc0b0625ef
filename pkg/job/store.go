// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/duraq/duraq/pkg/db"
	"github.com/duraq/duraq/pkg/plan"
	"github.com/duraq/duraq/pkg/queue"
)

// ErrOversizePayload is returned when a job's data fails the queue's
// configured JSON schema.
var ErrOversizePayload = errors.New("job data failed schema validation")

// Store executes the SQL that pkg/plan builds against a db.DB, adding the
// steps that need queue metadata or more than one statement: per-queue
// defaults at insert, the debounce retry into the next bucket, and
// dead-letter forwarding. Retry backoff and bucketing themselves are
// computed inside pkg/plan's SQL.
type Store struct {
	db     db.DB
	schema string
	queues *queue.Registry
}

// New returns a Store operating against the given schema, backed by
// registry for queue metadata lookups.
func New(conn db.DB, schema string, registry *queue.Registry) *Store {
	return &Store{db: conn, schema: schema, queues: registry}
}

// Send inserts a single job onto name with opts, returning its id. Returns
// ("", nil) when the send was swallowed by a unique-index collision (the
// expected outcome for short/singleton/stately policies under contention).
func (s *Store) Send(ctx context.Context, name string, data json.RawMessage, opts InsertOptions) (string, error) {
	return s.insertOne(ctx, name, data, opts)
}

// SendAfter is Send with start_after pinned to after.
func (s *Store) SendAfter(ctx context.Context, name string, data json.RawMessage, opts InsertOptions, after time.Time) (string, error) {
	opts.StartAfter = &after
	return s.insertOne(ctx, name, data, opts)
}

// SendThrottled coalesces sends within the same `seconds`-wide bucket keyed
// by key into a single job. A collision with an already-occupied bucket is
// dropped silently, returning ("", nil).
func (s *Store) SendThrottled(ctx context.Context, name string, data json.RawMessage, opts InsertOptions, seconds int, key string) (string, error) {
	opts.SingletonKey = &key
	opts.singletonSeconds = seconds
	return s.insertOne(ctx, name, data, opts)
}

// SendDebounced behaves like SendThrottled, except that a collision with the
// current bucket is retried once into the *next* bucket rather than
// dropped. The retry's bucket is chosen server-side by adding one full
// bucket width (singletonOffset) to now(), never from the client clock.
// The retried job's start_after is not deferred: it is runnable as soon as
// it is inserted.
func (s *Store) SendDebounced(ctx context.Context, name string, data json.RawMessage, opts InsertOptions, seconds int, key string) (string, error) {
	opts.SingletonKey = &key
	opts.singletonSeconds = seconds

	id, err := s.insertOne(ctx, name, data, opts)
	if err != nil || id != "" {
		return id, err
	}

	// First bucket is occupied; retry once into the next bucket boundary.
	// The offset is added server-side in plan.InsertJob's bucketing
	// expression, so clock skew between this process and the database
	// never affects which bucket the retry lands in.
	opts.singletonOffset = seconds
	return s.insertOne(ctx, name, data, opts)
}

// secondsUntilNextBucket returns the one-second pad that keeps a delay from
// landing exactly on a bucket boundary: 1 for a one-second bucket, 2 for
// any wider bucket.
func secondsUntilNextBucket(seconds int) int {
	offset := 1
	if seconds > 1 {
		offset = 2
	}
	return offset
}

// Insert bulk-inserts jobs onto name, each optionally overriding id, data,
// retry*, startAfter and keepUntil. Returns the ids of rows actually
// inserted, in input order with empty strings marking collisions.
func (s *Store) Insert(ctx context.Context, name string, jobs []struct {
	Data json.RawMessage
	Opts InsertOptions
}) ([]string, error) {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		id, err := s.insertOne(ctx, name, j.Data, j.Opts)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *Store) insertOne(ctx context.Context, name string, data json.RawMessage, opts InsertOptions) (string, error) {
	if err := s.validateData(ctx, name, data); err != nil {
		return "", err
	}

	q, err := s.queues.Get(ctx, name)
	if err != nil {
		return "", err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	var singletonSeconds interface{}
	if opts.singletonSeconds > 0 {
		singletonSeconds = opts.singletonSeconds
	}

	rows, err := s.db.QueryContext(ctx, plan.InsertJob(s.schema, plan.JobTableName(name)),
		id, name, []byte(data), opts.Priority,
		nullableTime(opts.StartAfter),
		nullableStringPtr(opts.SingletonKey),
		singletonSeconds,
		opts.singletonOffset,
		nullableDuration(opts.ExpireIn), fmt.Sprintf("%d seconds", q.ExpireSeconds),
		nullableTime(opts.KeepUntil), fmt.Sprintf("%d minutes", q.RetentionMinutes),
		nullableIntPtr(opts.RetryLimit), q.RetryLimit,
		nullableIntPtr(opts.RetryDelay), q.RetryDelay,
		nullableBoolPtr(opts.RetryBackoff), q.RetryBackoff,
		string(q.Policy),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", nil
		}
		return "", fmt.Errorf("inserting job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		// ON CONFLICT DO NOTHING swallowed the insert.
		return "", rows.Err()
	}
	var returnedID string
	if err := rows.Scan(&returnedID); err != nil {
		return "", err
	}
	return returnedID, rows.Err()
}

func (s *Store) validateData(ctx context.Context, name string, data json.RawMessage) error {
	schema, err := s.queues.CompiledSchema(ctx, name)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrOversizePayload, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrOversizePayload, err)
	}
	return nil
}

// FetchNext claims up to batchSize runnable jobs on name, ordered by
// priority (when withPriority is true) then creation order. DB errors are
// swallowed and reported as an empty batch: the expected cause of a fetch
// error is transient unique-index contention, not a genuine failure.
func (s *Store) FetchNext(ctx context.Context, name string, batchSize int, withPriority bool) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, plan.FetchNextJob(s.schema, plan.JobTableName(name), withPriority), name, batchSize)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, nil
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Complete marks ids as completed on queue name, storing output.
func (s *Store) Complete(ctx context.Context, name string, ids []string, output json.RawMessage) (int, error) {
	return s.execAffecting(ctx, plan.CompleteJobs(s.schema, plan.JobTableName(name)), name, ids, []byte(output))
}

// Fail transitions ids to retry or failed and forwards the jobs that landed
// in failed to the queue's dead letter destination when configured. jobErr,
// if non-nil, is serialized and stored as output. Each id's next state and
// backoff are decided in SQL (plan.FailJobs) from that row's own
// retry_count/retry_limit/retry_delay/retry_backoff columns, so a batch
// whose jobs have different retry histories gets the correct, independent
// decision for each one rather than one decision applied to the whole
// batch.
func (s *Store) Fail(ctx context.Context, name string, ids []string, jobErr error) (int, error) {
	q, err := s.queues.Get(ctx, name)
	if err != nil {
		return 0, err
	}

	output := SerializeError(jobErr)

	rows, err := s.db.QueryContext(ctx, plan.FailJobs(s.schema, plan.JobTableName(name)),
		name, pq.Array(ids), []byte(output))
	if err != nil {
		return 0, fmt.Errorf("failing jobs: %w", err)
	}
	defer rows.Close()

	affected := 0
	var failedIDs []string
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return affected, err
		}
		affected++
		if state == "failed" {
			failedIDs = append(failedIDs, id)
		}
	}
	if err := rows.Err(); err != nil {
		return affected, err
	}

	if len(failedIDs) > 0 && q.DeadLetter.Valid {
		if err := s.forwardToDeadLetter(ctx, name, q.DeadLetter.String, failedIDs); err != nil {
			return affected, err
		}
	}

	return affected, nil
}

func (s *Store) forwardToDeadLetter(ctx context.Context, name, deadLetter string, ids []string) error {
	for _, id := range ids {
		rows, err := s.db.QueryContext(ctx, plan.GetJobByID(s.schema, plan.JobTableName(name)), name, id)
		if err != nil {
			return err
		}
		j, err := scanJobIfAny(rows)
		rows.Close()
		if err != nil || j == nil {
			continue
		}
		if _, err := s.insertOne(ctx, deadLetter, j.Data, InsertOptions{}); err != nil {
			return fmt.Errorf("forwarding to dead letter queue %q: %w", deadLetter, err)
		}
	}
	return nil
}

// Cancel cancels ids on queue name. Only non-terminal jobs are affected.
func (s *Store) Cancel(ctx context.Context, name string, ids []string) (int, error) {
	return s.execAffectingIDs(ctx, plan.CancelJobs(s.schema, plan.JobTableName(name)), name, ids)
}

// Resume resets terminal ids on queue name back to created.
func (s *Store) Resume(ctx context.Context, name string, ids []string) (int, error) {
	return s.execAffectingIDs(ctx, plan.ResumeJobs(s.schema, plan.JobTableName(name)), name, ids)
}

// Delete permanently removes ids from queue name.
func (s *Store) Delete(ctx context.Context, name string, ids []string) (int, error) {
	return s.execAffectingIDs(ctx, plan.DeleteJobs(s.schema, plan.JobTableName(name)), name, ids)
}

func (s *Store) execAffecting(ctx context.Context, sqlText, name string, ids []string, output []byte) (int, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, name, pq.Array(ids), output)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	affected := 0
	for rows.Next() {
		affected++
	}
	return affected, rows.Err()
}

func (s *Store) execAffectingIDs(ctx context.Context, sqlText, name string, ids []string) (int, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, name, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	affected := 0
	for rows.Next() {
		affected++
	}
	return affected, rows.Err()
}

// GetByID fetches a live job by id. When includeArchive is true and the job
// is not found live, the archive table is consulted as a fallback.
func (s *Store) GetByID(ctx context.Context, name, id string, includeArchive bool) (*Job, error) {
	rows, err := s.db.QueryContext(ctx, plan.GetJobByID(s.schema, plan.JobTableName(name)), name, id)
	if err != nil {
		return nil, err
	}
	j, err := scanJobIfAny(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if j != nil {
		return j, nil
	}
	if !includeArchive {
		return nil, fmt.Errorf("%w: job %s on queue %q", queue.ErrNotFound, id, name)
	}

	archivedRows, err := s.db.QueryContext(ctx, plan.GetArchivedJobByID(s.schema), name, id)
	if err != nil {
		return nil, err
	}
	defer archivedRows.Close()
	if !archivedRows.Next() {
		return nil, fmt.Errorf("%w: job %s on queue %q", queue.ErrNotFound, id, name)
	}
	return scanArchivedJob(archivedRows)
}

// Archive moves every terminal job past its keep_until cutoff from the live
// partitioned table into the append-only archive table.
func (s *Store) Archive(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, plan.ArchiveTerminalJobs(s.schema))
	return err
}

func scanJobIfAny(rows *sql.Rows) (*Job, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanJob(rows)
}

func scanJob(rows *sql.Rows) (*Job, error) {
	j := &Job{}
	var state, policy, expireIn string
	if err := rows.Scan(
		&j.ID, &j.Name, &j.Data, &j.Priority, &state, &j.RetryLimit, &j.RetryCount,
		&j.RetryDelay, &j.RetryBackoff, &j.StartAfter, &j.StartedOn, &j.SingletonKey,
		&j.SingletonOn, &expireIn, &j.CreatedOn, &j.CompletedOn, &j.KeepUntil, &j.Output,
		&j.DeadLetter, &policy,
	); err != nil {
		return nil, fmt.Errorf("scanning job row: %w", err)
	}
	j.State = State(state)
	j.Policy = policy
	j.ExpireIn, _ = parseInterval(expireIn)
	return j, nil
}

// parseInterval parses a Postgres interval value formatted by the default
// "postgres" IntervalStyle, e.g. "00:15:00" or "1 day 02:03:04", into a
// time.Duration. Fractional days/months are not produced by our DDL (only
// "N seconds"/"N minutes" intervals are ever stored), so this only needs to
// handle an optional leading "N day(s)" term plus an HH:MM:SS clock part.
func parseInterval(s string) (time.Duration, error) {
	var days int
	clock := s
	if idx := indexOfDay(s); idx >= 0 {
		if _, err := fmt.Sscanf(s, "%d day", &days); err == nil {
			clock = s[idx:]
		}
	}

	var h, m int
	var sec float64
	if _, err := fmt.Sscanf(clock, "%d:%d:%f", &h, &m, &sec); err != nil {
		if clock == "" {
			return time.Duration(days) * 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("parsing interval %q: %w", s, err)
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), nil
}

func indexOfDay(s string) int {
	for _, sep := range []string{"days ", "day "} {
		for i := 0; i+len(sep) <= len(s); i++ {
			if s[i:i+len(sep)] == sep {
				return i + len(sep)
			}
		}
	}
	return -1
}

// scanArchivedJob scans a row from GetArchivedJobByID, whose column list is
// the standard job columns plus a trailing archived_on.
func scanArchivedJob(rows *sql.Rows) (*Job, error) {
	j := &Job{}
	var state, policy, expireIn string
	if err := rows.Scan(
		&j.ID, &j.Name, &j.Data, &j.Priority, &state, &j.RetryLimit, &j.RetryCount,
		&j.RetryDelay, &j.RetryBackoff, &j.StartAfter, &j.StartedOn, &j.SingletonKey,
		&j.SingletonOn, &expireIn, &j.CreatedOn, &j.CompletedOn, &j.KeepUntil, &j.Output,
		&j.DeadLetter, &policy, &j.ArchivedOn,
	); err != nil {
		return nil, fmt.Errorf("scanning archived job row: %w", err)
	}
	j.State = State(state)
	j.Policy = policy
	j.ExpireIn, _ = parseInterval(expireIn)
	return j, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableDuration(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

func nullableStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableIntPtr(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullableBoolPtr(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}
