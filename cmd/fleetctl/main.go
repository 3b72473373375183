// fleetctl - operate a fleet of MQTT nodes from the command line.
//
// Every invocation loads the configuration directory, rehydrates the
// connections earlier invocations left behind and runs one command.
// Exit codes are listed in internal/cli/output.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/fleetctl/internal/cli"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Ctrl-C cancels the root context: watch loops return and subscriptions
	// are released before the process exits.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx)
	cancel()
	os.Exit(cli.GetExitCode(err))
}

// run executes the command line. Errors are already reported by
// cli.Execute; the caller only turns them into an exit code.
func run(ctx context.Context) error {
	return cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr, versionString())
}

func versionString() string {
	if commit == "unknown" && date == "unknown" {
		return version
	}
	return version + " (" + commit + ", " + date + ")"
}
