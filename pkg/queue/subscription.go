// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"

	"github.com/duraq/duraq/pkg/plan"
)

// Subscribe records that queue name should receive a copy of every
// publish(event, ...) call. Re-subscribing is a no-op.
func (r *Registry) Subscribe(ctx context.Context, event, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, plan.Subscribe(r.schema), event, name)
	if err != nil {
		return fmt.Errorf("subscribing %q to %q: %w", name, event, err)
	}
	return nil
}

// Unsubscribe removes a queue's subscription to event, if any.
func (r *Registry) Unsubscribe(ctx context.Context, event, name string) error {
	_, err := r.db.ExecContext(ctx, plan.Unsubscribe(r.schema), event, name)
	return err
}

// QueuesForEvent lists every queue subscribed to event.
func (r *Registry) QueuesForEvent(ctx context.Context, event string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, plan.GetQueuesForEvent(r.schema), event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
