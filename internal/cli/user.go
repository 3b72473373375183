package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/messages"
)

func newUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User mapping and alerts",
	}
	cmd.AddCommand(newUserMapCommand(rootOpts))
	cmd.AddCommand(newUserAlertCommand(rootOpts))
	return cmd
}

// UserMapOptions holds options for the user map command.
type UserMapOptions struct {
	*RootOptions
	NodeID    string
	UserID    string
	SecretKey string
	Reset     bool
	Timeout   int
}

func newUserMapCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserMapOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Map a node to a user account",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				mapping, err := messages.NewUserMapping(nodeID, opts.UserID, opts.SecretKey, opts.Reset, opts.Timeout)
				if err != nil {
					return err
				}
				return app.publishAndShow(ctx, nodeID, topics.NodeUserMapping(nodeID), mapping,
					fmt.Sprintf("Sent user mapping for node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "user id (required)")
	cmd.Flags().StringVar(&opts.SecretKey, "secret-key", "", "mapping secret (required)")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "reset an existing mapping")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", messages.DefaultMappingTimeout, "mapping timeout in seconds")

	return cmd
}

// UserAlertOptions holds options for the user alert command.
type UserAlertOptions struct {
	*RootOptions
	NodeID  string
	Message string
}

func newUserAlertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserAlertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Send an alert for a node",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				alert, err := messages.NewAlert(nodeID, opts.Message)
				if err != nil {
					return err
				}
				return app.publishAndShow(ctx, nodeID, topics.NodeAlert(nodeID), alert,
					fmt.Sprintf("Sent alert for node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "alert text (required)")

	return cmd
}
