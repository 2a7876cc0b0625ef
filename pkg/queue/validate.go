// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidName is returned when a queue or subscription name fails
	// validation.
	ErrInvalidName = errors.New("invalid queue name")
	// ErrInvalidPolicy is returned when a queue is created or updated with a
	// policy outside {standard, short, singleton, stately}.
	ErrInvalidPolicy = errors.New("invalid queue policy")
	// ErrSelfDeadLetter is returned when a queue names itself as its own
	// dead-letter destination, which would loop a perpetually failing job
	// back into the queue it failed on.
	ErrSelfDeadLetter = errors.New("queue cannot be its own dead letter queue")
	// ErrNotFound is returned when a queue, job, or migration version is
	// looked up and does not exist.
	ErrNotFound = errors.New("not found")
)

// nameRE matches a valid queue, event, or subscription name.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reservedPrefix marks names reserved for internal queues (archival sweep,
// expiry sweep, monitoring).
const reservedPrefix = "__"

// ValidateName checks that name is non-empty, matches [A-Za-z0-9_-]+, and
// does not begin with the reserved internal prefix.
func ValidateName(name string) error {
	if name == "" || !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q must match [A-Za-z0-9_-]+", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return fmt.Errorf("%w: %q uses reserved prefix %q", ErrInvalidName, name, reservedPrefix)
	}
	return nil
}

// ValidateOptions validates a createQueue/updateQueue request: the policy
// must be one of the four recognized values, and a dead letter target, if
// set, must be a validly-named queue other than name itself.
func ValidateOptions(name string, opts Options) error {
	if opts.Policy != "" && !opts.Policy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, opts.Policy)
	}
	if opts.DeadLetter != nil {
		if err := ValidateName(*opts.DeadLetter); err != nil {
			return err
		}
		if *opts.DeadLetter == name {
			return fmt.Errorf("%w: %q", ErrSelfDeadLetter, name)
		}
	}
	return nil
}
