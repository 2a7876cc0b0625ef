// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"sync"
	"time"

	"github.com/duraq/duraq/pkg/queue"
)

// queueCache is a periodically-refreshed, lazily-filled-on-miss view of
// queue metadata. The database remains the source of truth; a cache miss
// (queue created after the last refresh) always falls through to a live
// lookup rather than reporting NotFound.
type queueCache struct {
	registry *queue.Registry
	ttl      time.Duration

	mu   sync.RWMutex
	data map[string]*queue.Queue
}

func newQueueCache(registry *queue.Registry, ttl time.Duration) *queueCache {
	return &queueCache{registry: registry, ttl: ttl, data: make(map[string]*queue.Queue)}
}

// get returns a queue's cached metadata, falling through to the registry
// (and populating the cache) on a miss.
func (c *queueCache) get(ctx context.Context, name string) (*queue.Queue, error) {
	c.mu.RLock()
	q, ok := c.data[name]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := c.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data[name] = q
	c.mu.Unlock()
	return q, nil
}

// invalidate drops a single queue's cached entry, used by deleteQueue so a
// deleted queue isn't served stale until the next full refresh.
func (c *queueCache) invalidate(name string) {
	c.mu.Lock()
	delete(c.data, name)
	c.mu.Unlock()
}

// refresh reloads every queue's metadata from the registry. Deleted queues
// are best-effort: they simply stop appearing in the refreshed set.
func (c *queueCache) refresh(ctx context.Context) error {
	queues, err := c.registry.List(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]*queue.Queue, len(queues))
	for _, q := range queues {
		fresh[q.Name] = q
	}

	c.mu.Lock()
	c.data = fresh
	c.mu.Unlock()
	return nil
}
