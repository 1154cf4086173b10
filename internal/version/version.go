// Package version holds build identification stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is overridden at build time with the release tag.
	Version = "0.2.0"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the full build identity for the version command.
func String() string {
	return fmt.Sprintf("terrain-report %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
