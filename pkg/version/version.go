// Package version exposes build and version information for DocuMind.
package version

import (
	"fmt"
	"runtime"
)

// Version is the DocuMind release version. Set via ldflags at build time
// (-X github.com/documind-hq/documind/pkg/version.Version=...), "dev"
// otherwise.
var Version = "dev"

// Build details injected via ldflags alongside Version.
var (
	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC 3339 format.
	Date = "unknown"

	// GoVersion is the toolchain that built the binary (set at runtime).
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the full one-line version string.
func String() string {
	return fmt.Sprintf("documind %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns just the version.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
