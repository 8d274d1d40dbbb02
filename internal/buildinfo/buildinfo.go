// Package buildinfo exposes the version metadata stamped into the
// binary at link time, plus derived values (uptime, User-Agent) that
// the API and outbound HTTP clients report.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden via -ldflags at release build time; the zero values
// identify a from-source development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Uptime returns how long the process has been running, truncated to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// Info returns build and runtime metadata as a flat string map, the
// shape served by the version endpoint and the version subcommand.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// String returns the one-line form used in the startup log banner.
func String() string {
	return fmt.Sprintf("Satchel %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// UserAgent returns the User-Agent value used for all outbound HTTP
// requests. External search and model APIs see this on every call.
func UserAgent() string {
	return fmt.Sprintf("Satchel/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
