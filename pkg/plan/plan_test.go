// SPDX-License-Identifier: Apache-2.0

package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duraq/duraq/pkg/plan"
)

func TestJobTableName(t *testing.T) {
	assert.Equal(t, "job_emails", plan.JobTableName("emails"))
}

func TestInsertJobIsParameterizedAndSwallowsConflicts(t *testing.T) {
	sql := plan.InsertJob("myschema", "job_emails")

	assert.Contains(t, sql, `"myschema"."job_emails"`)
	assert.Contains(t, sql, "ON CONFLICT DO NOTHING")
	assert.Contains(t, sql, "RETURNING id")
	assert.Contains(t, sql, "$19")
}

func TestFetchNextJobOrdersByPriorityWhenRequested(t *testing.T) {
	withPriority := plan.FetchNextJob("s", "job_q", true)
	assert.Contains(t, withPriority, "priority DESC, created_on ASC")
	assert.Contains(t, withPriority, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, withPriority, "SET state = 'active'")

	withoutPriority := plan.FetchNextJob("s", "job_q", false)
	assert.Contains(t, withoutPriority, "ORDER BY created_on ASC")
	assert.NotContains(t, withoutPriority, "priority DESC")
}

func TestCompleteJobsOnlyTouchesActiveJobs(t *testing.T) {
	sql := plan.CompleteJobs("s", "job_q")
	assert.Contains(t, sql, "state = 'completed'")
	assert.Contains(t, sql, "AND state = 'active'")
}

func TestFailJobsDecidesStatePerRowFromItsOwnRetryColumns(t *testing.T) {
	sql := plan.FailJobs("s", "job_q")
	assert.Contains(t, sql, "retry_count = retry_count + 1")
	// The next state and backoff are computed from each row's own
	// retry_count/retry_limit/retry_delay/retry_backoff, never from a
	// value the caller supplies - a batch with mixed retry histories must
	// get an independent decision per id.
	assert.Contains(t, sql, "CASE WHEN retry_count + 1 >= retry_limit THEN 'failed' ELSE 'retry' END")
	assert.Contains(t, sql, "CASE WHEN retry_backoff")
	assert.Contains(t, sql, "RETURNING id, state")
	assert.NotContains(t, sql, "$4")
}

func TestCancelJobsExcludesTerminalStates(t *testing.T) {
	sql := plan.CancelJobs("s", "job_q")
	assert.Contains(t, sql, "IN ('created', 'retry', 'active')")
}

func TestResumeJobsOnlyTouchesTerminalStates(t *testing.T) {
	sql := plan.ResumeJobs("s", "job_q")
	assert.Contains(t, sql, "IN ('completed', 'cancelled', 'failed')")
	assert.Contains(t, sql, "retry_count = 0")
}

func TestCreatePartitionEachStatementSeparate(t *testing.T) {
	tests := []struct {
		policy        string
		wantFragments []string
	}{
		{"standard", nil},
		{"short", []string{"WHERE state = 'created'"}},
		{"singleton", []string{"WHERE state = 'active'"}},
		{"stately", []string{"(name, state) WHERE state IN ('created', 'retry', 'active')"}},
	}

	for _, tt := range tests {
		stmts := plan.CreatePartition("s", "emails", tt.policy)

		// First statement always creates the partition itself.
		assert.Contains(t, stmts[0], "PARTITION OF")
		assert.Contains(t, stmts[0], "'emails'")

		// Every statement is a standalone element - no concatenation bugs.
		for _, stmt := range stmts {
			assert.NotContains(t, stmt, ";\n")
		}

		// Throttle indexes are always present, regardless of policy.
		joined := stmts[len(stmts)-2] + stmts[len(stmts)-1]
		assert.Contains(t, joined, "singleton_key")
		assert.Contains(t, joined, "singleton_on")

		for _, frag := range tt.wantFragments {
			found := false
			for _, stmt := range stmts {
				if assert.ObjectsAreEqual(true, containsStr(stmt, frag)) {
					found = true
				}
			}
			assert.True(t, found, "expected one statement to contain %q", frag)
		}
	}
}

func containsStr(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestGetQueueSizeAddsBeforePredicateOnlyWhenRequested(t *testing.T) {
	assert.Contains(t, plan.GetQueueSize("s", "job_q", true), "start_after < $2")
	assert.NotContains(t, plan.GetQueueSize("s", "job_q", false), "start_after < $2")
}

func TestSubscribeUpsertsIgnoringDuplicates(t *testing.T) {
	assert.Contains(t, plan.Subscribe("s"), "ON CONFLICT (event, name) DO NOTHING")
}

func TestArchiveTerminalJobsMovesRowsFromJobToArchive(t *testing.T) {
	sql := plan.ArchiveTerminalJobs("s")
	assert.Contains(t, sql, `"s"."job"`)
	assert.Contains(t, sql, `"s"."archive"`)
	assert.Contains(t, sql, "keep_until <= now()")
}
