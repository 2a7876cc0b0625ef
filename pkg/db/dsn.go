// SPDX-License-Identifier: Apache-2.0

package db

import (
	"fmt"
	"net/url"
	"strings"
)

// WithSearchPath takes a Postgres connection string in URL format and
// returns the same connection string with its search_path pinned to schema,
// via the libpq "options" query parameter. Every connection this module
// opens - the manager's own pool, the migration store's connection - goes
// through this so a schema is never selected with a session-level SET
// search_path statement that could be skipped by mistake.
func WithSearchPath(connStr, schema string) (string, error) {
	if schema == "" {
		return connStr, nil
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("parsing connection string: %w", err)
	}

	q := u.Query()
	q.Set("options", fmt.Sprintf("-c search_path=%s", schema))
	encodedQuery := q.Encode()

	// url.Values.Encode() escapes spaces as '+', but libpq's options parser
	// only understands %20 inside a query-string-encoded value.
	encodedQuery = strings.ReplaceAll(encodedQuery, "+", "%20")
	u.RawQuery = encodedQuery

	return u.String(), nil
}
