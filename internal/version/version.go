// Package version reports the colorgrid build.
package version

import "fmt"

// Set with -ldflags "-X colorgrid/internal/version.Version=..." at release.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("colorgrid %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
