package cli

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/credentials"
)

func newConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the broker address and node identities",
	}
	cmd.AddCommand(newSetBrokerCommand(rootOpts))
	cmd.AddCommand(newGetBrokerCommand(rootOpts))
	cmd.AddCommand(newSetCertPathCommand(rootOpts))
	cmd.AddCommand(newGetCertPathCommand(rootOpts))
	cmd.AddCommand(newDiscoverCommand(rootOpts))
	cmd.AddCommand(newListNodesCommand(rootOpts))
	cmd.AddCommand(newAddNodeCommand(rootOpts))
	cmd.AddCommand(newRemoveNodeCommand(rootOpts))
	cmd.AddCommand(newResetCommand(rootOpts))
	return cmd
}

func newSetBrokerCommand(rootOpts *RootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "set-broker",
		Short: "Store the broker address",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("url", url); err != nil {
				return err
			}
			return runWithApp(cmd, rootOpts, func(_ context.Context, app *App) error {
				if err := app.Identity.SetBroker(url); err != nil {
					return err
				}
				return app.Out.Success(map[string]string{"broker": url}, fmt.Sprintf("Broker set to %s", url))
			})
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "broker address, host:port (required)")

	return cmd
}

func newGetBrokerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get-broker",
		Short: "Show the broker address in use",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, rootOpts, func(_ context.Context, app *App) error {
				broker := app.Service.Broker()
				source := "configuration"
				if app.Identity.Broker() != "" {
					source = "identity store"
				}
				return app.Out.Success(map[string]string{"broker": broker, "source": source},
					fmt.Sprintf("Broker: %s (%s)", broker, source))
			})
		},
	}
}

// SetCertPathOptions holds options for the set-cert-path command.
type SetCertPathOptions struct {
	*RootOptions
	Path   string
	Update bool
}

func newSetCertPathCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetCertPathOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set-cert-path",
		Short: "Store the certificate search base and import its nodes",
		Long: `Store the directory searched for node certificates and import every node
identity found under it. Nodes already in the identity store are updated
unless --update=false.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("path", opts.Path); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(_ context.Context, app *App) error {
				return runSetCertPath(app, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Path, "path", "", "certificate base directory (required)")
	cmd.Flags().BoolVar(&opts.Update, "update", true, "update nodes already in the identity store")

	return cmd
}

// ImportResult reports what set-cert-path changed.
type ImportResult struct {
	Path    string   `json:"path"`
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
}

func runSetCertPath(app *App, opts *SetCertPathOptions) error {
	base, err := filepath.Abs(opts.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", credentials.ErrInvalidBasePath, opts.Path, err)
	}
	found, err := credentials.NewResolver(app.Logger).Discover(base)
	if err != nil {
		return err
	}
	if err := app.Identity.SetCertBasePath(base); err != nil {
		return err
	}

	result := ImportResult{Path: base, Added: []string{}, Updated: []string{}}
	var changes []credentials.Identity
	for _, id := range found {
		if _, exists := app.Identity.Lookup(id.NodeID); exists {
			if !opts.Update {
				continue
			}
			result.Updated = append(result.Updated, id.NodeID)
		} else {
			result.Added = append(result.Added, id.NodeID)
		}
		changes = append(changes, id)
	}
	if _, err := app.Identity.AddAll(changes); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Certificate path set to %s", base)
	writeIDList(&b, "Added", result.Added)
	writeIDList(&b, "Updated", result.Updated)
	if len(result.Added)+len(result.Updated) == 0 {
		b.WriteString("\nNo node identities changed")
	}
	return app.Out.Success(result, b.String())
}

func writeIDList(b *strings.Builder, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s %d node(s):", label, len(ids))
	for _, id := range ids {
		fmt.Fprintf(b, "\n  - %s", id)
	}
}

func newGetCertPathCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get-cert-path",
		Short: "Show the certificate search base",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, rootOpts, func(_ context.Context, app *App) error {
				path := app.Identity.CertBasePath()
				if path == "" {
					path = app.Config.Paths.CertBase
				}
				text := "Certificate path: " + path
				if path == "" {
					text = "No certificate path set"
				}
				return app.Out.Success(map[string]string{"path": path}, text)
			})
		},
	}
}

func newDiscoverCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List node identities found under a certificate base",
		Long:  "List node identities found under --path (default the stored certificate path) without storing them.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, rootOpts, func(_ context.Context, app *App) error {
				base := path
				if base == "" {
					base = app.Identity.CertBasePath()
				}
				if base == "" {
					base = app.Config.Paths.CertBase
				}
				if base == "" {
					return NewExitError(ExitUsage, "no certificate path set; pass --path")
				}
				found, err := credentials.NewResolver(app.Logger).Discover(base)
				if err != nil {
					return err
				}
				return app.Out.Success(found, formatIdentities(found))
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "certificate base directory")

	return cmd
}

func newListNodesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-nodes",
		Short: "List stored node identities",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, rootOpts, func(_ context.Context, app *App) error {
				ids := app.Identity.List()
				return app.Out.Success(ids, formatIdentities(ids))
			})
		},
	}
}

func formatIdentities(ids []credentials.Identity) string {
	if len(ids) == 0 {
		return "No nodes"
	}
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n  cert: %s\n  key:  %s", id.NodeID, id.CertPath, id.KeyPath)
	}
	return b.String()
}

// AddNodeOptions holds options for the add-node command.
type AddNodeOptions struct {
	*RootOptions
	NodeID   string
	CertPath string
	KeyPath  string
}

func newAddNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddNodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add-node",
		Short: "Store a node identity",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, f := range [][2]string{{"node-id", opts.NodeID}, {"cert-path", opts.CertPath}, {"key-path", opts.KeyPath}} {
				if err := requireFlag(f[0], f[1]); err != nil {
					return err
				}
			}
			return runWithApp(cmd, opts.RootOptions, func(_ context.Context, app *App) error {
				id := credentials.Identity{NodeID: opts.NodeID, CertPath: opts.CertPath, KeyPath: opts.KeyPath}
				if err := app.Identity.Add(id); err != nil {
					return err
				}
				return app.Out.Success(map[string]string{"node_id": opts.NodeID}, fmt.Sprintf("Added node %s", opts.NodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (required)")
	cmd.Flags().StringVar(&opts.CertPath, "cert-path", "", "node certificate (required)")
	cmd.Flags().StringVar(&opts.KeyPath, "key-path", "", "node private key (required)")

	return cmd
}

func newRemoveNodeCommand(rootOpts *RootOptions) *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "remove-node",
		Short: "Forget a node identity",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("node-id", nodeID); err != nil {
				return err
			}
			return runWithApp(cmd, rootOpts, func(_ context.Context, app *App) error {
				removed, err := app.Identity.Remove(nodeID)
				if err != nil {
					return err
				}
				if !removed {
					return NewExitError(ExitNotConnected, fmt.Sprintf("node %s is not in the identity store", nodeID))
				}
				return app.Out.Success(map[string]string{"node_id": nodeID}, fmt.Sprintf("Removed node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&nodeID, "node-id", "", "node id (required)")

	return cmd
}

func newResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the identity store and stored connections",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes && !confirm(cmd, "Are you sure you want to reset all configuration?") {
				return NewExitError(ExitFailure, "reset aborted")
			}
			return runWithApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				closed := app.Service.DisconnectAll(ctx)
				if err := app.Identity.Reset(); err != nil {
					return err
				}
				return app.Out.Success(map[string]any{"connections_closed": len(closed)}, "Configuration reset")
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	in := bufio.NewScanner(cmd.InOrStdin())
	if !in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(in.Text()))
	return answer == "y" || answer == "yes"
}
