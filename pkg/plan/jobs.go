// SPDX-License-Identifier: Apache-2.0

package plan

import "fmt"

// GetJobByID returns the SQL fetching a single live job by id.
func GetJobByID(schema, table string) string {
	return fmt.Sprintf(`SELECT %[2]s FROM %[1]s WHERE name = $1 AND id = $2`,
		qualify(schema, table), jobColumns)
}

// GetArchivedJobByID returns the SQL fetching a single archived job by id.
// The archive table is not partitioned, so the table name is always
// "archive".
func GetArchivedJobByID(schema string) string {
	return fmt.Sprintf(`SELECT %[2]s, archived_on FROM %[1]s WHERE name = $1 AND id = $2`,
		qualify(schema, "archive"), jobColumns)
}
