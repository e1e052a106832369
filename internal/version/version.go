// Package version holds build metadata, set at link time with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

var (
	CLIName    = "llamarisk"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", CLIVersion, Commit, BuildDate, runtime.Version())
}

// UserAgent is sent on every outgoing HTTP request.
func UserAgent() string {
	return CLIName + "/" + CLIVersion
}
