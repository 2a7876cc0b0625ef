// SPDX-License-Identifier: Apache-2.0

package plan

import "fmt"

// Subscribe returns the SQL upserting a subscription of queue $2 to event
// $1.
func Subscribe(schema string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s (event, name, created_on)
VALUES ($1, $2, now())
ON CONFLICT (event, name) DO NOTHING
`, qualify(schema, "subscription"))
}

// Unsubscribe returns the SQL removing a subscription of queue $2 to event
// $1.
func Unsubscribe(schema string) string {
	return fmt.Sprintf(`DELETE FROM %[1]s WHERE event = $1 AND name = $2`, qualify(schema, "subscription"))
}

// GetQueuesForEvent returns the SQL listing every queue name subscribed to
// event $1.
func GetQueuesForEvent(schema string) string {
	return fmt.Sprintf(`SELECT name FROM %[1]s WHERE event = $1`, qualify(schema, "subscription"))
}
