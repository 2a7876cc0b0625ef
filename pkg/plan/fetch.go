// SPDX-License-Identifier: Apache-2.0

package plan

import "fmt"

// jobColumns lists the columns returned by every job-shaped query, in a
// fixed order that pkg/job.scanJob relies on.
const jobColumns = `id, name, data, priority, state, retry_limit, retry_count,
	retry_delay, retry_backoff, start_after, started_on, singleton_key,
	singleton_on, expire_in, created_on, completed_on, keep_until, output,
	dead_letter, policy`

// jobColumnsQualified is jobColumns with every column prefixed by "j.", for
// use in queries that join the job table against another relation (the
// fetch claim's locking CTE) where an unqualified column name would be
// ambiguous.
const jobColumnsQualified = `j.id, j.name, j.data, j.priority, j.state, j.retry_limit,
	j.retry_count, j.retry_delay, j.retry_backoff, j.start_after, j.started_on,
	j.singleton_key, j.singleton_on, j.expire_in, j.created_on, j.completed_on,
	j.keep_until, j.output, j.dead_letter, j.policy`

// FetchNextJob returns the SQL that claims up to $2 runnable jobs for queue
// $1 under FOR UPDATE SKIP LOCKED, moving them to 'active' and stamping
// started_on. When withPriority is true, rows are claimed highest-priority
// first, ties broken by insertion order; otherwise purely by insertion
// order.
func FetchNextJob(schema, table string, withPriority bool) string {
	order := "created_on ASC"
	if withPriority {
		order = "priority DESC, created_on ASC"
	}

	return fmt.Sprintf(`
WITH next AS (
	SELECT id FROM %[1]s
	WHERE name = $1
		AND state IN ('created', 'retry')
		AND start_after <= now()
	ORDER BY %[2]s
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s j
SET state = 'active', started_on = now()
FROM next
WHERE j.id = next.id
RETURNING %[3]s
`, qualify(schema, table), order, jobColumnsQualified)
}
