package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigDir string
	Verbose   bool
	Format    string // "json" | "text"
	Version   string

	// Dialer overrides the MQTT dialer (for testing).
	Dialer session.Dialer
	// SessionOptions are applied to every session handle (for testing).
	SessionOptions []session.Option
	// Now overrides the clock used for payload timestamps (for testing).
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fleetctl CLI.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&RootOptions{Version: version})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetctl",
		Short: "fleetctl - operate a fleet of MQTT nodes",
		Long: `Maintain per-node mutual-TLS MQTT sessions against the cloud broker and
use them to configure, query and update embedded nodes.

Connections made by one invocation are remembered for the next, and the
first node connected becomes the active node used when --node-id is omitted.`,
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitUsage, "invalid flags", err)
	})

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", "", "configuration directory (default $FLEETCTL_CONFIG_DIR or ~/.fleetctl)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newConnectionCommand(opts))
	cmd.AddCommand(newMessagingCommand(opts))
	cmd.AddCommand(newNodeCommand(opts))
	cmd.AddCommand(newDeviceCommand(opts))
	cmd.AddCommand(newOTACommand(opts))
	cmd.AddCommand(newUserCommand(opts))
	cmd.AddCommand(newTSDataCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// Execute runs the CLI with args, reports any failure in the selected
// output format and returns it. Use GetExitCode for the process status.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, version string) error {
	return execute(ctx, &RootOptions{Version: version}, args, stdout, stderr)
}

func execute(ctx context.Context, opts *RootOptions, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	out := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr}
	if !slices.Contains(ValidFormats, opts.Format) {
		out.Format = "text"
	}
	out.Error(err)
	return err
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return WrapExitError(ExitUsage, "invalid arguments", err)
		}
		return nil
	}
}
