// SPDX-License-Identifier: Apache-2.0

package worker_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duraq/duraq/pkg/db"
	"github.com/duraq/duraq/pkg/events"
	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/migrate"
	"github.com/duraq/duraq/pkg/queue"
	"github.com/duraq/duraq/pkg/testutils"
	"github.com/duraq/duraq/pkg/worker"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func newHarness(t *testing.T, conn *sql.DB, schema string) (*job.Store, *queue.Registry) {
	t.Helper()
	rdb := &db.RDB{DB: conn}
	reg := queue.New(rdb, schema)
	store := job.New(rdb, schema, reg)
	return store, reg
}

func TestWorkerCompletesSuccessfulJob(t *testing.T) {
	testutils.WithMigratedStoreInSchema(t, testutils.TestSchema(), func(_ *migrate.Store, conn *sql.DB) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, reg := newHarness(t, conn, testutils.TestSchema())
		assert.NoError(t, reg.Create(ctx, "emails", queue.Options{}))

		id, err := store.Send(ctx, "emails", json.RawMessage(`{"to":"a@example.com"}`), job.InsertOptions{})
		assert.NoError(t, err)
		assert.NotEmpty(t, id)

		handled := make(chan struct{})
		bus := events.New()
		w := worker.New("emails", worker.Options{Interval: 50 * time.Millisecond}, store, reg, bus,
			func(ctx context.Context, jobs []*job.Job) (interface{}, error) {
				close(handled)
				return nil, nil
			})

		go w.Run(ctx)
		defer w.Stop()

		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("handler was never invoked")
		}

		assert.Eventually(t, func() bool {
			j, err := store.GetByID(ctx, "emails", id, false)
			return err == nil && j.State == job.StateCompleted
		}, 5*time.Second, 50*time.Millisecond)
	})
}

func TestWorkerFailsJobOnHandlerError(t *testing.T) {
	testutils.WithMigratedStoreInSchema(t, testutils.TestSchema(), func(_ *migrate.Store, conn *sql.DB) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, reg := newHarness(t, conn, testutils.TestSchema())
		retryLimit := 0
		assert.NoError(t, reg.Create(ctx, "emails", queue.Options{RetryLimit: &retryLimit}))

		id, err := store.Send(ctx, "emails", json.RawMessage(`{}`), job.InsertOptions{})
		assert.NoError(t, err)

		bus := events.New()
		errCh, unsubscribe := bus.SubscribeErrors()
		defer unsubscribe()

		w := worker.New("emails", worker.Options{Interval: 50 * time.Millisecond}, store, reg, bus,
			func(ctx context.Context, jobs []*job.Job) (interface{}, error) {
				return nil, errors.New("handler blew up")
			})

		go w.Run(ctx)
		defer w.Stop()

		select {
		case e := <-errCh:
			assert.Contains(t, e.Message, "handler blew up")
		case <-time.After(5 * time.Second):
			t.Fatal("expected an error event")
		}

		assert.Eventually(t, func() bool {
			j, err := store.GetByID(ctx, "emails", id, false)
			return err == nil && j.State == job.StateFailed
		}, 5*time.Second, 50*time.Millisecond)
	})
}

func TestWorkerStopIsIdempotentAndBlocksUntilDone(t *testing.T) {
	testutils.WithMigratedStoreInSchema(t, testutils.TestSchema(), func(_ *migrate.Store, conn *sql.DB) {
		ctx := context.Background()
		store, reg := newHarness(t, conn, testutils.TestSchema())
		assert.NoError(t, reg.Create(ctx, "q", queue.Options{}))

		bus := events.New()
		w := worker.New("q", worker.Options{Interval: 10 * time.Millisecond}, store, reg, bus,
			func(ctx context.Context, jobs []*job.Job) (interface{}, error) { return nil, nil })

		go w.Run(ctx)
		time.Sleep(20 * time.Millisecond)

		w.Stop()
		w.Stop()

		assert.Equal(t, worker.StateStopped, w.State())
	})
}
