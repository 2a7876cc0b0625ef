// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"errors"

	"golang.org/x/mod/semver"
)

// ErrSchemaNewerThanBinary is returned when the schema's recorded migrator
// version is newer than the running binary, the inverse of the usual
// "binary ahead of schema" case and evidence of a downgrade.
var ErrSchemaNewerThanBinary = errors.New("schema version is newer than the running binary")

// VersionCompatibility reports how schemaVersion compares against
// binaryVersion (VersionCompatOlder: the schema was last migrated by an
// older release), both release version strings (the 'v' prefix is added if
// missing, mirroring golang.org/x/mod/semver's requirement).
type VersionCompatibility int

const (
	VersionCompatSkipped VersionCompatibility = iota
	VersionCompatOlder
	VersionCompatEqual
	VersionCompatNewer
)

// CheckVersionCompatibility compares the running binary's release version
// against the version string recorded by whatever process last ran
// migrations. Development builds ("development", "") skip the check
// entirely, since they carry no meaningful ordering.
func CheckVersionCompatibility(binaryVersion, schemaVersion string) (VersionCompatibility, error) {
	if binaryVersion == "" || binaryVersion == "development" || schemaVersion == "" || schemaVersion == "development" {
		return VersionCompatSkipped, nil
	}

	bv := ensureVPrefix(binaryVersion)
	sv := ensureVPrefix(schemaVersion)

	if !semver.IsValid(bv) || !semver.IsValid(sv) {
		return VersionCompatSkipped, nil
	}

	bv, sv = semver.Canonical(bv), semver.Canonical(sv)

	switch semver.Compare(sv, bv) {
	case -1:
		return VersionCompatOlder, nil
	case 1:
		return VersionCompatNewer, ErrSchemaNewerThanBinary
	default:
		return VersionCompatEqual, nil
	}
}

func ensureVPrefix(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}
