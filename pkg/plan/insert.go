// SPDX-License-Identifier: Apache-2.0

package plan

import "fmt"

// InsertJob returns the SQL that inserts a single job into the named
// queue's partition. Positional parameters, matching the spec's insertJob
// contract plus the two columns the original contract leaves implicit
// (policy, retry_count start at zero):
//
//	$1  id               uuid
//	$2  name             text
//	$3  data             jsonb
//	$4  priority         int
//	$5  startAfter       timestamptz, nullable
//	$6  singletonKey     text, nullable
//	$7  singletonSeconds int, nullable - window width, null disables bucketing
//	$8  singletonOffset  int - seconds added to now() before bucketing (debounce next-slot)
//	$9  expireIn         interval, nullable
//	$10 expireInDefault  interval
//	$11 keepUntil        timestamptz, nullable
//	$12 keepUntilDefault interval - added to now() when keepUntil is null
//	$13 retryLimit       int, nullable
//	$14 retryLimitDefault int
//	$15 retryDelay       int, nullable (seconds)
//	$16 retryDelayDefault int
//	$17 retryBackoff     bool, nullable
//	$18 retryBackoffDefault bool
//	$19 policy           text
//
// A row is returned on success. A unique partial index violation (singleton,
// short, stately or throttle/debounce collision) is swallowed by
// "ON CONFLICT DO NOTHING", which yields zero rows rather than an error -
// callers distinguish "no rows" from a genuine transport error.
func InsertJob(schema, table string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s (
	id, name, data, priority, state, start_after, singleton_key, singleton_on,
	expire_in, keep_until, retry_limit, retry_delay, retry_backoff, retry_count,
	created_on, policy
)
VALUES (
	$1, $2, $3::jsonb, $4, 'created',
	COALESCE($5::timestamptz, now()),
	$6,
	CASE WHEN $7::int IS NOT NULL THEN
		to_timestamp(floor(extract(epoch from (now() + make_interval(secs => $8::int))) / $7::int) * $7::int)
	ELSE NULL END,
	COALESCE($9::interval, $10::interval),
	COALESCE($11::timestamptz, now() + $12::interval),
	COALESCE($13::int, $14::int),
	COALESCE($15::int, $16::int),
	COALESCE($17::bool, $18::bool),
	0,
	now(),
	$19
)
ON CONFLICT DO NOTHING
RETURNING id
`, qualify(schema, table))
}
