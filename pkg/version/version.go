// Package version provides SDK and build version information.
package version

import (
	"runtime"
)

// SDKVersion is the Tidemark SDK semantic version reported in the
// sdk_version attribute of every emitted event.
const SDKVersion = "0.4.0"

var (
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"

	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)
