// SPDX-License-Identifier: Apache-2.0

// Package plan builds the parameterized SQL statements that implement every
// queue and job operation. Every function here is pure: it takes a schema
// (and, where relevant, a partition table name) and returns SQL text. No
// function in this package ever touches a database connection - that is the
// job of pkg/queue and pkg/job, which execute the plans this package
// produces.
package plan

import (
	"fmt"

	"github.com/lib/pq"
)

// JobTableName returns the deterministic name of the partition backing a
// queue's jobs.
func JobTableName(queueName string) string {
	return "job_" + queueName
}

// qualify schema-qualifies and quotes an identifier.
func qualify(schema, name string) string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))
}

// quote quotes a bare identifier.
func quote(name string) string {
	return pq.QuoteIdentifier(name)
}
