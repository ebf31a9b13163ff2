package cmd

import "fmt"

// Version information (injected at build time via ldflags).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// runVersion displays version information.
func runVersion() {
	fmt.Println(versionString())
}

// versionString formats the build identity on one line.
func versionString() string {
	return fmt.Sprintf("strand %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
