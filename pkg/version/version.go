// Package version holds build information stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// These variables are set during build time via ldflags:
//
//	-X github.com/spikeflow/spikeflow/pkg/version.Version=v0.3.0
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns all version information keyed for JSON output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"go_version": GoVersion,
	}
}

// String formats the version for the -version flag.
func String() string {
	return fmt.Sprintf("spikeflow %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
