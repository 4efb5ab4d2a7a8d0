// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"io"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Print writes the version block every HumanOS binary shows for `version`.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Version)
	fmt.Fprintf(w, "  commit:     %s\n", GitCommit)
	fmt.Fprintf(w, "  built:      %s\n", BuildTime)
	fmt.Fprintf(w, "  go version: %s\n", runtime.Version())
}
