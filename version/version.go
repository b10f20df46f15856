// Package version holds pltwatch's own semantic version, logged once by
// Driver.Init.
package version

import "github.com/blang/semver"

var current = semver.MustParse("0.1.0")

// String returns the library's semantic version.
func String() string {
	return current.String()
}

// Semver returns the parsed semver.Version, for callers that want to
// compare against a minimum supported version rather than just display it.
func Semver() semver.Version {
	return current
}
