package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/orchestrator"
)

func newConnectionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage node connections",
	}
	cmd.AddCommand(newConnectCommand(rootOpts))
	cmd.AddCommand(newDisconnectCommand(rootOpts))
	cmd.AddCommand(newListCommand(rootOpts))
	cmd.AddCommand(newSwitchCommand(rootOpts))
	return cmd
}

// ConnectOptions holds options for the connect command.
type ConnectOptions struct {
	*RootOptions
	NodeIDs []string
	Broker  string
	Timeout int
}

func newConnectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConnectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect one or more nodes",
		Long: `Connect nodes concurrently and remember the connections for later
commands. The first node that connects becomes the active node.

With --timeout the command stays in the foreground and closes the new
connections once the timeout elapses. Ctrl-C leaves them registered.`,
		Example: `  fleetctl connection connect --node-id N1,N2
  fleetctl connection connect --node-id N1 --broker broker.example.com:8883 --timeout 300`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.NodeIDs, "node-id", nil, "node id(s), comma separated")
	cmd.Flags().StringVar(&opts.Broker, "broker", "", "broker address (default from configuration)")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", 0, "close the connections after this many seconds")

	return cmd
}

// ConnectResult is the JSON output of the connect command.
type ConnectResult struct {
	Active  string            `json:"active,omitempty"`
	Results map[string]bool   `json:"results"`
	Errors  map[string]string `json:"errors,omitempty"`
	Expired []string          `json:"expired,omitempty"`
}

func runConnect(cmd *cobra.Command, opts *ConnectOptions) error {
	ids := splitIDs(opts.NodeIDs)
	if len(ids) == 0 {
		return NewExitError(ExitUsage, "required flag --node-id not set")
	}
	if opts.Timeout < 0 {
		return NewExitError(ExitUsage, "--timeout must not be negative")
	}

	return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
		out := app.Out
		connectOpts := orchestrator.ConnectOptions{
			Broker:  opts.Broker,
			Timeout: time.Duration(opts.Timeout) * time.Second,
			OnExpire: func(e orchestrator.Expiry) {
				if e.Removed {
					out.Progress("Connection to %s closed after timeout", e.NodeID)
				} else {
					out.Progress("Connection to %s was already closed", e.NodeID)
				}
			},
		}

		batch, err := app.Service.ConnectMany(ctx, ids, connectOpts)
		if err != nil {
			return err
		}

		result := ConnectResult{
			Active:  app.Service.ActiveNodeID(),
			Results: batch.Results(),
			Errors:  make(map[string]string),
		}
		for _, nodeID := range batch.Nodes() {
			if nodeErr := batch.Err(nodeID); nodeErr != nil {
				result.Errors[nodeID] = nodeErr.Error()
				out.Progress("Failed to connect node %s: %v", nodeID, nodeErr)
				continue
			}
			out.Progress("Connected node %s", nodeID)
		}

		connected := batch.Connected()
		if len(connected) == 0 {
			first := batch.Nodes()[0]
			return fmt.Errorf("no node connected: %w", batch.Err(first))
		}

		if batch.Timeout() > 0 {
			out.Progress("Waiting %s before closing %d connection(s); press Ctrl-C to keep them",
				batch.Timeout(), len(connected))
			if err := batch.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					if batch.Interrupt() {
						out.Progress("Interrupted; connections left registered")
					} else {
						out.Progress("Interrupted while closing expired connections")
					}
				} else {
					return err
				}
			}
			for _, e := range batch.Expired() {
				result.Expired = append(result.Expired, e.NodeID)
			}
		}

		return out.Success(result, fmt.Sprintf("Active node: %s", result.Active))
	})
}

// DisconnectOptions holds options for the disconnect command.
type DisconnectOptions struct {
	*RootOptions
	NodeID string
	All    bool
}

func newDisconnectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DisconnectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect a node",
		Long:  "Disconnect a node and forget its connection. Without flags the active node is disconnected.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDisconnect(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "disconnect every node")

	return cmd
}

func runDisconnect(cmd *cobra.Command, opts *DisconnectOptions) error {
	if opts.All && opts.NodeID != "" {
		return NewExitError(ExitUsage, "--all and --node-id are mutually exclusive")
	}

	return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
		if opts.All {
			results := app.Service.DisconnectAll(ctx)
			var lines []string
			for _, nodeID := range sortedKeys(results) {
				lines = append(lines, fmt.Sprintf("Disconnected node %s", nodeID))
			}
			if len(lines) == 0 {
				lines = append(lines, "No connections")
			}
			return app.Out.Success(results, strings.Join(lines, "\n"))
		}

		nodeID := opts.NodeID
		if nodeID == "" {
			nodeID = app.Service.ActiveNodeID()
			if nodeID == "" {
				return orchestrator.ErrNoActiveNode
			}
		}
		if !app.Service.Disconnect(ctx, nodeID) {
			return fmt.Errorf("%w: node %s", orchestrator.ErrNotConnected, nodeID)
		}
		return app.Out.Success(map[string]any{"node_id": nodeID, "disconnected": true},
			fmt.Sprintf("Disconnected node %s", nodeID))
	})
}

// ListOptions holds options for the list command.
type ListOptions struct {
	*RootOptions
	Verify bool
	All    bool
}

func newListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored connections",
		Long: `List stored connections. With --verify each connection is re-established
and pinged. With --all nodes from the identity store without a connection
are listed too.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "ping every stored connection")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include configured nodes without a connection")

	return cmd
}

// ConnectionRow is one row of the list output.
type ConnectionRow struct {
	NodeID     string `json:"node_id"`
	Broker     string `json:"broker,omitempty"`
	Active     bool   `json:"active"`
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	Registered bool   `json:"registered"`
	Stored     bool   `json:"stored"`
	Error      string `json:"error,omitempty"`
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
		rows := []ConnectionRow{}
		seen := make(map[string]bool)
		for _, st := range app.Service.Status(ctx, opts.Verify) {
			row := ConnectionRow{
				NodeID:     st.Record.NodeID,
				Broker:     st.Record.Broker,
				Active:     st.Active,
				Connected:  st.Connected,
				State:      st.State.String(),
				Registered: st.Registered,
				Stored:     true,
			}
			if st.Err != nil {
				row.Error = st.Err.Error()
			}
			seen[row.NodeID] = true
			rows = append(rows, row)
		}

		if opts.All {
			for _, id := range app.Identity.List() {
				if !seen[id.NodeID] {
					rows = append(rows, ConnectionRow{NodeID: id.NodeID, State: "not connected"})
				}
			}
		}

		var b strings.Builder
		if len(rows) == 0 {
			b.WriteString("No connections")
		}
		for i, row := range rows {
			if i > 0 {
				b.WriteString("\n")
			}
			marker := " "
			if row.Active {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %-24s %-14s %s", marker, row.NodeID, row.State, row.Broker)
			if row.Error != "" {
				fmt.Fprintf(&b, " (%s)", row.Error)
			}
		}
		return app.Out.Success(rows, b.String())
	})
}

// SwitchOptions holds options for the switch command.
type SwitchOptions struct {
	*RootOptions
	NodeID string
}

func newSwitchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SwitchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Make another connected node active",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("node-id", opts.NodeID); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(_ context.Context, app *App) error {
				if err := app.Service.Switch(opts.NodeID); err != nil {
					return err
				}
				return app.Out.Success(map[string]string{"active": opts.NodeID},
					fmt.Sprintf("Active node: %s", opts.NodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id to make active (required)")

	return cmd
}
