// Package version holds build information injected with -ldflags.
package version

import "fmt"

// Example: go build -ldflags "-X agentkit/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // package-level vars for ldflags injection
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
