// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/duraq/duraq/pkg/job"
)

// PublishResult records one subscriber queue's outcome for a publish call.
type PublishResult struct {
	Queue string
	ID    string
	Err   error
}

// Publish fans data out as a send(name, data) to every queue subscribed to
// event, awaiting all outcomes via settled aggregation: one subscriber's
// failure never cancels or hides another's result.
func (m *Manager) Publish(ctx context.Context, event string, data json.RawMessage) ([]PublishResult, error) {
	names, err := m.queues.QueuesForEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	results := make([]PublishResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			id, err := m.jobs.Send(ctx, name, data, job.InsertOptions{})
			results[i] = PublishResult{Queue: name, ID: id, Err: err}
		}(i, name)
	}
	wg.Wait()

	return results, nil
}

// Subscribe registers queue name to receive a copy of every future
// Publish(event, ...) call.
func (m *Manager) Subscribe(ctx context.Context, event, name string) error {
	return m.queues.Subscribe(ctx, event, name)
}

// Unsubscribe removes queue name's subscription to event.
func (m *Manager) Unsubscribe(ctx context.Context, event, name string) error {
	return m.queues.Unsubscribe(ctx, event, name)
}
