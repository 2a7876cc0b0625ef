// SPDX-License-Identifier: Apache-2.0

package job_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duraq/duraq/pkg/db"
	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/migrate"
	"github.com/duraq/duraq/pkg/queue"
	"github.com/duraq/duraq/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

// TestFailDecidesEachIDIndependentlyWhenRetryHistoriesDiffer exercises a
// batch whose jobs have already accumulated different retry_counts: one is
// one failure away from exhausting its retry_limit, the other has plenty of
// budget left. A single call to Fail must send the first to failed (and
// forward it to the dead letter queue) while leaving the second in retry,
// even though both ids are failed together in one call.
func TestFailDecidesEachIDIndependentlyWhenRetryHistoriesDiffer(t *testing.T) {
	testutils.WithMigratedStoreInSchema(t, testutils.TestSchema(), func(_ *migrate.Store, conn *sql.DB) {
		ctx := context.Background()
		schema := testutils.TestSchema()
		rdb := &db.RDB{DB: conn}
		queues := queue.New(rdb, schema)
		deadLetter := "dead"

		assert.NoError(t, queues.Create(ctx, deadLetter, queue.Options{}))
		limit := 2
		assert.NoError(t, queues.Create(ctx, "work", queue.Options{RetryLimit: &limit, DeadLetter: &deadLetter}))

		store := job.New(rdb, schema, queues)

		aboutToExhaust, err := store.Send(ctx, "work", []byte(`{"n":1}`), job.InsertOptions{})
		assert.NoError(t, err)
		freshStart, err := store.Send(ctx, "work", []byte(`{"n":2}`), job.InsertOptions{})
		assert.NoError(t, err)

		// Drive aboutToExhaust's retry_count to 1 (one short of its
		// retry_limit of 2) without touching freshStart.
		jobs, err := store.FetchNext(ctx, "work", 10, false)
		assert.NoError(t, err)
		assert.Len(t, jobs, 2)
		_, err = store.Fail(ctx, "work", []string{aboutToExhaust}, errors.New("first failure"))
		assert.NoError(t, err)

		before, err := store.GetByID(ctx, "work", aboutToExhaust, false)
		assert.NoError(t, err)
		assert.Equal(t, job.StateRetry, before.State)
		assert.Equal(t, 1, before.RetryCount)

		// Now fail both ids together in a single batched call.
		affected, err := store.Fail(ctx, "work", []string{aboutToExhaust, freshStart}, errors.New("second failure"))
		assert.NoError(t, err)
		assert.Equal(t, 2, affected)

		exhausted, err := store.GetByID(ctx, "work", aboutToExhaust, false)
		assert.NoError(t, err)
		assert.Equal(t, job.StateFailed, exhausted.State, "job at its retry limit must be failed, not kept in retry")

		stillRetrying, err := store.GetByID(ctx, "work", freshStart, false)
		assert.NoError(t, err)
		assert.Equal(t, job.StateRetry, stillRetrying.State, "a fresh job in the same batch must not be force-failed")
		assert.Equal(t, 1, stillRetrying.RetryCount)

		size, err := queues.Size(ctx, deadLetter, nil)
		assert.NoError(t, err)
		assert.Equal(t, 1, size, "only the exhausted job should have been forwarded to the dead letter queue")
	})
}
