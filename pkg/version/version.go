// Package version holds build information injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/chmdznr/canvas-course-sync/pkg/version.Version=v1.2.0"
package version

import "fmt"

var (
	// Version is the released version of csync
	Version = "dev"
	// GitCommit is the commit the binary was built from
	GitCommit = "unknown"
	// BuildTime is when the binary was built
	BuildTime = "unknown"
)

// String returns the version with its build details, e.g.
// "v1.2.0 (commit 1a2b3c4, built 2026-03-01T10:00:00Z)"
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, shortCommit(GitCommit), BuildTime)
}

func shortCommit(commit string) string {
	if len(commit) > 7 && commit != "unknown" {
		return commit[:7]
	}
	return commit
}
