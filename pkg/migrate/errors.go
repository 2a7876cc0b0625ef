// SPDX-License-Identifier: Apache-2.0

package migrate

import "errors"

// ErrVersionMismatch is returned when the stored schema version does not
// match the Previous version a migration expects to apply on top of. This
// surfaces to the operator rather than being retried: it usually means two
// processes raced to migrate, or the schema was hand-edited.
var ErrVersionMismatch = errors.New("migration version mismatch")

// ErrNotFound is returned when a requested migration version does not exist
// in the chain.
var ErrNotFound = errors.New("migration not found")
