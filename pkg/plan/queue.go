// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"

	"github.com/lib/pq"
)

const queueColumns = `name, policy, retry_limit, retry_delay, retry_backoff,
	expire_seconds, retention_minutes, dead_letter, data_schema, created_on`

// CreateQueue returns the SQL inserting a queue's metadata row.
// $1 name, $2 policy, $3 retryLimit, $4 retryDelay, $5 retryBackoff,
// $6 expireSeconds, $7 retentionMinutes, $8 deadLetter, $9 dataSchema.
func CreateQueue(schema string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s (name, policy, retry_limit, retry_delay, retry_backoff,
	expire_seconds, retention_minutes, dead_letter, data_schema, created_on)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
`, qualify(schema, "queue"))
}

// UpdateQueue returns the SQL mutating a queue's mutable fields.
// $1 name, $2 retryLimit, $3 retryDelay, $4 retryBackoff, $5 expireSeconds,
// $6 retentionMinutes, $7 deadLetter, $8 dataSchema.
func UpdateQueue(schema string) string {
	return fmt.Sprintf(`
UPDATE %[1]s
SET retry_limit = $2, retry_delay = $3, retry_backoff = $4,
	expire_seconds = $5, retention_minutes = $6, dead_letter = $7, data_schema = $8
WHERE name = $1
`, qualify(schema, "queue"))
}

// DeleteQueue returns the SQL removing a queue's metadata row. The caller
// is responsible for dropping the partition first (see DropPartition).
func DeleteQueue(schema string) string {
	return fmt.Sprintf(`DELETE FROM %[1]s WHERE name = $1`, qualify(schema, "queue"))
}

// GetQueue returns the SQL fetching a single queue's metadata row.
func GetQueue(schema string) string {
	return fmt.Sprintf(`SELECT %[2]s FROM %[1]s WHERE name = $1`, qualify(schema, "queue"), queueColumns)
}

// GetQueues returns the SQL listing every queue's metadata row, ordered by
// name for deterministic output.
func GetQueues(schema string) string {
	return fmt.Sprintf(`SELECT %[2]s FROM %[1]s ORDER BY name`, qualify(schema, "queue"), queueColumns)
}

// GetQueueSize returns the SQL counting a queue's non-terminal jobs. When
// before is true the statement additionally filters on start_after < $2.
func GetQueueSize(schema, table string, before bool) string {
	predicate := ""
	if before {
		predicate = "AND start_after < $2"
	}
	return fmt.Sprintf(`
SELECT count(*) FROM %[1]s
WHERE name = $1 AND state IN ('created', 'retry', 'active') %[2]s
`, qualify(schema, table), predicate)
}

// PurgeQueue returns the SQL deleting every job on a queue, regardless of
// state.
func PurgeQueue(schema, table string) string {
	return fmt.Sprintf(`DELETE FROM %[1]s WHERE name = $1`, qualify(schema, table))
}

// CreatePartition returns the DDL statements creating the partition backing
// a newly created queue, along with the policy-specific and throttle unique
// partial indexes spec'd by the queue's uniqueness discipline. Every
// statement is a separate slice element - concatenating DDL statements
// without a separator is exactly the historical migration splice bug this
// rewrite avoids (see DESIGN.md).
func CreatePartition(schema, queueName, policy string) []string {
	table := JobTableName(queueName)
	qualifiedTable := qualify(schema, table)

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %[1]s PARTITION OF %[2]s FOR VALUES IN (%[3]s)`,
			qualifiedTable, qualify(schema, "job"), pq.QuoteLiteral(queueName)),
	}

	switch policy {
	case "short":
		stmts = append(stmts, fmt.Sprintf(
			`CREATE UNIQUE INDEX %[1]s ON %[2]s (name) WHERE state = 'created'`,
			quote(table+"_short_idx"), qualifiedTable))
	case "singleton":
		stmts = append(stmts, fmt.Sprintf(
			`CREATE UNIQUE INDEX %[1]s ON %[2]s (name) WHERE state = 'active'`,
			quote(table+"_singleton_idx"), qualifiedTable))
	case "stately":
		stmts = append(stmts, fmt.Sprintf(
			`CREATE UNIQUE INDEX %[1]s ON %[2]s (name, state) WHERE state IN ('created', 'retry', 'active')`,
			quote(table+"_stately_idx"), qualifiedTable))
	}

	// Throttle/debounce indexes apply regardless of policy: any queue can
	// receive sendThrottled/sendDebounced sends.
	stmts = append(stmts,
		fmt.Sprintf(`CREATE UNIQUE INDEX %[1]s ON %[2]s (name, singleton_key)
			WHERE singleton_key IS NOT NULL AND singleton_on IS NULL
			AND state IN ('created', 'retry', 'active', 'completed')`,
			quote(table+"_throttle_key_idx"), qualifiedTable),
		fmt.Sprintf(`CREATE UNIQUE INDEX %[1]s ON %[2]s (name, singleton_on, coalesce(singleton_key, ''))
			WHERE singleton_on IS NOT NULL
			AND state IN ('created', 'retry', 'active', 'completed')`,
			quote(table+"_throttle_time_idx"), qualifiedTable),
	)

	return stmts
}

// DropPartition returns the DDL detaching and dropping a queue's partition.
func DropPartition(schema, queueName string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %[1]s`, qualify(schema, JobTableName(queueName)))
}
