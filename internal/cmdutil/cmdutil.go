// Package cmdutil runs the operator-supplied shell commands that drive
// local database state: status probes, start/stop, resync, and rebuild.
// Every command is an opaque string (base spec §9 Design Notes: the
// design deliberately does not tokenize them, the operator is trusted) and
// is always run through a shell so placeholder substitution and any
// operator-written pipes/redirects behave the way they would on a
// terminal.
package cmdutil

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Timeout classes for the different kinds of commands LocalActions runs.
const (
	TimeoutFast   = 10 * time.Second // status probes: db status, network status
	TimeoutMedium = 60 * time.Second // start/stop db, promote
	TimeoutSlow   = 5 * time.Minute  // delta-resync, full-rebuild (basebackup can take a while)
)

// Run executes a shell command string with the given timeout and returns
// its combined output. If the command exceeds the timeout it is killed
// and an error is returned, so a hung command never blocks a tick forever.
func Run(ctx context.Context, timeout time.Duration, shellCmd string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", shellCmd)
	output, err := cmd.CombinedOutput()

	if cctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("command timed out after %v: %s", timeout, shellCmd)
	}
	return output, err
}

// RunFast runs a shell command with TimeoutFast. Use for status probes.
func RunFast(ctx context.Context, shellCmd string) ([]byte, error) {
	return Run(ctx, TimeoutFast, shellCmd)
}

// RunMedium runs a shell command with TimeoutMedium. Use for start/stop,
// promote, and other commands expected to complete in under a minute.
func RunMedium(ctx context.Context, shellCmd string) ([]byte, error) {
	return Run(ctx, TimeoutMedium, shellCmd)
}

// RunSlow runs a shell command with TimeoutSlow. Use for delta-resync and
// full-rebuild, which move data and may legitimately take minutes.
func RunSlow(ctx context.Context, shellCmd string) ([]byte, error) {
	return Run(ctx, TimeoutSlow, shellCmd)
}
