// SPDX-License-Identifier: Apache-2.0

package manager_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/manager"
	"github.com/duraq/duraq/pkg/queue"
	"github.com/duraq/duraq/pkg/testutils"
	"github.com/duraq/duraq/pkg/worker"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestSendAndWorkCompletesJob(t *testing.T) {
	testutils.WithManagerAndConnectionToContainer(t, func(mgr *manager.Manager, _ *sql.DB) {
		ctx := context.Background()
		assert.NoError(t, mgr.CreateQueue(ctx, "emails", queue.Options{}))

		id, err := mgr.Send(ctx, "emails", json.RawMessage(`{"to":"a@example.com"}`), job.InsertOptions{})
		assert.NoError(t, err)
		assert.NotEmpty(t, id)

		processed := make(chan struct{})
		_, err = mgr.Work("emails", worker.Options{Interval: 50 * time.Millisecond},
			func(ctx context.Context, jobs []*job.Job) (interface{}, error) {
				close(processed)
				return nil, nil
			})
		assert.NoError(t, err)

		select {
		case <-processed:
		case <-time.After(5 * time.Second):
			t.Fatal("job was never processed")
		}
	})
}

func TestCreateQueueThenGetQueueUsesCacheWithLiveFallback(t *testing.T) {
	testutils.WithManagerAndConnectionToContainer(t, func(mgr *manager.Manager, _ *sql.DB) {
		ctx := context.Background()
		assert.NoError(t, mgr.CreateQueue(ctx, "q", queue.Options{Policy: queue.PolicyStately}))

		q, err := mgr.GetQueue(ctx, "q")
		assert.NoError(t, err)
		assert.Equal(t, queue.PolicyStately, q.Policy)
	})
}

func TestThrottledSendCollapsesConcurrentSends(t *testing.T) {
	testutils.WithManagerAndConnectionToContainer(t, func(mgr *manager.Manager, _ *sql.DB) {
		ctx := context.Background()
		assert.NoError(t, mgr.CreateQueue(ctx, "q", queue.Options{}))

		const attempts = 20
		results := make(chan string, attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				id, err := mgr.SendThrottled(ctx, "q", json.RawMessage(`{}`), job.InsertOptions{}, 60, "k")
				assert.NoError(t, err)
				results <- id
			}()
		}

		nonEmpty := 0
		for i := 0; i < attempts; i++ {
			if id := <-results; id != "" {
				nonEmpty++
			}
		}
		assert.Equal(t, 1, nonEmpty)
	})
}

func TestPublishFansOutToSubscribedQueues(t *testing.T) {
	testutils.WithManagerAndConnectionToContainer(t, func(mgr *manager.Manager, _ *sql.DB) {
		ctx := context.Background()
		assert.NoError(t, mgr.CreateQueue(ctx, "email-welcome", queue.Options{}))
		assert.NoError(t, mgr.CreateQueue(ctx, "analytics", queue.Options{}))
		assert.NoError(t, mgr.Subscribe(ctx, "user.signup", "email-welcome"))
		assert.NoError(t, mgr.Subscribe(ctx, "user.signup", "analytics"))

		results, err := mgr.Publish(ctx, "user.signup", json.RawMessage(`{"userId":"1"}`))
		assert.NoError(t, err)
		assert.Len(t, results, 2)
		for _, r := range results {
			assert.NoError(t, r.Err)
			assert.NotEmpty(t, r.ID)
		}
	})
}

// TestFailWipResolvesInFlightJobsOnUngracefulShutdown is the scenario-7
// analog: a worker has a job claimed and its handler is still running (it
// never gets the chance to report a real outcome) when the embedder decides
// it cannot wait any longer. FailWip must resolve that job to retry/failed
// with the sentinel shutdown reason, without waiting for the handler.
func TestFailWipResolvesInFlightJobsOnUngracefulShutdown(t *testing.T) {
	testutils.WithManagerAndConnectionToContainer(t, func(mgr *manager.Manager, _ *sql.DB) {
		ctx := context.Background()
		assert.NoError(t, mgr.CreateQueue(ctx, "q", queue.Options{}))

		id, err := mgr.Send(ctx, "q", json.RawMessage(`{}`), job.InsertOptions{})
		assert.NoError(t, err)
		assert.NotEmpty(t, id)

		started := make(chan struct{})
		release := make(chan struct{})
		_, err = mgr.Work("q", worker.Options{Interval: 10 * time.Millisecond},
			func(ctx context.Context, jobs []*job.Job) (interface{}, error) {
				close(started)
				<-release
				return nil, nil
			})
		assert.NoError(t, err)

		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("handler was never invoked")
		}

		assert.NoError(t, mgr.FailWip(ctx))

		j, err := mgr.GetJobByID(ctx, "q", id, false)
		assert.NoError(t, err)
		assert.True(t, j.State == job.StateRetry || j.State == job.StateFailed)
		assert.Contains(t, string(j.Output), "shut down while active")

		close(release)
	})
}

func TestOffWorkStopsMatchingWorkers(t *testing.T) {
	testutils.WithManagerAndConnectionToContainer(t, func(mgr *manager.Manager, _ *sql.DB) {
		ctx := context.Background()
		assert.NoError(t, mgr.CreateQueue(ctx, "q", queue.Options{}))

		_, err := mgr.Work("q", worker.Options{Interval: 10 * time.Millisecond},
			func(ctx context.Context, jobs []*job.Job) (interface{}, error) { return nil, nil })
		assert.NoError(t, err)

		assert.NoError(t, mgr.OffWork("q"))
	})
}
