// SPDX-License-Identifier: Apache-2.0

package queue

// Policy is the uniqueness discipline a queue enforces on its jobs. It
// selects which unique partial indexes plan.CreatePartition builds on the
// queue's partition. pkg/job treats a send that collides with one of these
// indexes as a no-op (an empty id, no error) whatever the policy.
type Policy string

const (
	// PolicyStandard places no uniqueness constraint beyond the primary key.
	// Any number of jobs may be created, retried or active concurrently.
	PolicyStandard Policy = "standard"

	// PolicyShort allows at most one job in state 'created' at a time. A
	// send while one is already queued is silently dropped.
	PolicyShort Policy = "short"

	// PolicySingleton allows at most one job in state 'active' at a time.
	// Multiple jobs may be queued, but only one executes concurrently.
	PolicySingleton Policy = "singleton"

	// PolicyStately allows at most one job per (name, state) among the
	// non-terminal states. A queue can have one created, one retry and one
	// active job simultaneously, but never two of the same state.
	PolicyStately Policy = "stately"
)

// Valid reports whether p is one of the four recognized policies.
func (p Policy) Valid() bool {
	switch p {
	case PolicyStandard, PolicyShort, PolicySingleton, PolicyStately:
		return true
	default:
		return false
	}
}
