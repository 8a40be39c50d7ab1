// Package version reports the build version. Release builds set it with
// -ldflags "-X coffeechain/pkg/version.version=1.2.3".
package version

import "github.com/Masterminds/semver/v3"

var version = "0.1.0-dev"

// Version returns the canonical semantic version, or the raw build value when it does not parse.
func Version() string {
	v, err := semver.NewVersion(version)
	if err != nil {
		return version
	}
	return v.String()
}
