// Package buildinfo exposes the version stamp of the running binary.
// The variables are filled in at link time:
//
//	go build -ldflags "-X github.com/paavoai/paavo/internal/buildinfo.Version=v0.3.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Stamped at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime reports how long the process has been running, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// StartedAt returns the process start time.
func StartedAt() time.Time {
	return started
}

// Info returns build and runtime details for the version endpoint and
// the version command.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return fmt.Sprintf("Paavo/%s (+https://github.com/paavoai/paavo)", Version)
}

// String is the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("Paavo %s (%s) built %s", Version, GitCommit, BuildTime)
}
