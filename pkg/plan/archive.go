// SPDX-License-Identifier: Apache-2.0

package plan

import "fmt"

// ArchiveTerminalJobs returns the SQL moving every terminal job whose
// keep_until has passed out of the live (parent, partitioned) job table and
// into the append-only archive table. This operates against the partitioned
// parent relation directly; PostgreSQL routes the DELETE to the correct
// partitions transparently.
func ArchiveTerminalJobs(schema string) string {
	return fmt.Sprintf(`
WITH moved AS (
	DELETE FROM %[1]s
	WHERE state IN ('completed', 'cancelled', 'failed') AND keep_until <= now()
	RETURNING %[3]s
)
INSERT INTO %[2]s (%[3]s, archived_on)
SELECT %[3]s, now() FROM moved
`, qualify(schema, "job"), qualify(schema, "archive"), jobColumns)
}
