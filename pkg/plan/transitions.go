// SPDX-License-Identifier: Apache-2.0

package plan

import "fmt"

// CompleteJobs returns the SQL completing jobs $2 on queue $1, storing
// output $3. Only jobs currently 'active' transition; anything else (most
// notably an already-completed job) is a no-op, making the operation
// idempotent.
func CompleteJobs(schema, table string) string {
	return fmt.Sprintf(`
UPDATE %[1]s
SET state = 'completed', completed_on = now(), output = $3::jsonb
WHERE name = $1 AND id = ANY($2::uuid[]) AND state = 'active'
RETURNING id
`, qualify(schema, table))
}

// FailJobs returns the SQL transitioning jobs $2 on queue $1 to 'retry' or
// 'failed', recording the serialized error/output as $3. Each row's next
// state and start_after are decided from that row's own retry_count against
// its own retry_limit/retry_delay/retry_backoff columns, not from a value
// supplied by the caller - a batch of ids with different retry histories
// gets the correct, independent decision for each one. With backoff
// enabled, the delay grows exponentially with retry_count and is perturbed
// by up to 25% jitter (computed per row via random()) so that a burst of
// jobs failing together does not retry in lockstep. Jobs already in a
// terminal state are left untouched.
func FailJobs(schema, table string) string {
	return fmt.Sprintf(`
UPDATE %[1]s
SET
	state = CASE WHEN retry_count + 1 >= retry_limit THEN 'failed' ELSE 'retry' END,
	start_after = now() + (
		CASE WHEN retry_backoff
			THEN retry_delay * power(2, retry_count) * (1 + random() * 0.25)
			ELSE retry_delay
		END * interval '1 second'
	),
	retry_count = retry_count + 1,
	output = $3::jsonb
WHERE name = $1 AND id = ANY($2::uuid[]) AND state IN ('created', 'retry', 'active')
RETURNING id, state
`, qualify(schema, table))
}

// CancelJobs returns the SQL cancelling jobs $2 on queue $1. Only
// non-terminal jobs (created, retry, active) are affected.
func CancelJobs(schema, table string) string {
	return fmt.Sprintf(`
UPDATE %[1]s
SET state = 'cancelled'
WHERE name = $1 AND id = ANY($2::uuid[]) AND state IN ('created', 'retry', 'active')
RETURNING id
`, qualify(schema, table))
}

// ResumeJobs returns the SQL resuming terminal jobs $2 on queue $1 back to
// 'created', resetting retry_count and start_after. Jobs that have already
// been swept into the archive no longer exist in this table, so resuming
// them is naturally a zero-affected no-op.
func ResumeJobs(schema, table string) string {
	return fmt.Sprintf(`
UPDATE %[1]s
SET state = 'created', start_after = now(), retry_count = 0
WHERE name = $1 AND id = ANY($2::uuid[]) AND state IN ('completed', 'cancelled', 'failed')
RETURNING id
`, qualify(schema, table))
}

// DeleteJobs returns the SQL permanently removing jobs $2 on queue $1,
// regardless of state.
func DeleteJobs(schema, table string) string {
	return fmt.Sprintf(`
DELETE FROM %[1]s
WHERE name = $1 AND id = ANY($2::uuid[])
RETURNING id
`, qualify(schema, table))
}
