package store

import "github.com/Masterminds/semver/v3"

// initialVersion is assigned to every newly created template.
const initialVersion = "1.0.0"

// fallbackVersion is used when the current version string does not parse.
const fallbackVersion = "1.0.1"

// nextVersion increments the patch component of a three-part version.
// Malformed versions fall back to a fixed "1.0.1" rather than failing the
// update. The patch component strictly increases per template, which
// keeps history ordering monotonic.
func nextVersion(current string) string {
	v, err := semver.StrictNewVersion(current)
	if err != nil {
		return fallbackVersion
	}
	next := v.IncPatch()
	return next.String()
}
