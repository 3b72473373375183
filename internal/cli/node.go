package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetctl/internal/messages"
	"github.com/nerrad567/fleetctl/internal/orchestrator"
)

var topics mqtt.Topics

func newNodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Configure and observe nodes",
	}
	cmd.AddCommand(newNodeConfigCommand(rootOpts))
	cmd.AddCommand(newNodeParamsCommand(rootOpts))
	cmd.AddCommand(newNodeInitParamsCommand(rootOpts))
	cmd.AddCommand(newNodeGroupParamsCommand(rootOpts))
	cmd.AddCommand(newNodeMonitorCommand(rootOpts))
	cmd.AddCommand(newPresenceCommand(rootOpts))
	return cmd
}

// targetNode returns nodeID, or the active node when it is empty.
func (a *App) targetNode(nodeID string) (string, error) {
	if nodeID != "" {
		return nodeID, nil
	}
	if active := a.Service.ActiveNodeID(); active != "" {
		return active, nil
	}
	return "", orchestrator.ErrNoActiveNode
}

// NodeConfigOptions holds options for the node config command.
type NodeConfigOptions struct {
	*RootOptions
	NodeID     string
	ConfigFile string
}

func newNodeConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Publish a node configuration document",
		Long: `Publish a node configuration document to node/<id>/config. The document
must carry node_id, info and devices, and node_id must name the target node.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("config-file", opts.ConfigFile); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				doc, err := messages.LoadDocument(opts.ConfigFile)
				if err != nil {
					return err
				}
				if err := messages.ValidateNodeConfig(doc, nodeID); err != nil {
					return err
				}
				return app.publishAndShow(ctx, nodeID, topics.NodeConfig(nodeID), doc,
					fmt.Sprintf("Published configuration for node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.ConfigFile, "config-file", "", "JSON configuration document (required)")

	return cmd
}

// NodeParamsOptions holds options for the node params command.
type NodeParamsOptions struct {
	*RootOptions
	NodeID     string
	ParamsFile string
	Device     string
	Remote     bool
}

func newNodeParamsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeParamsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Publish node parameters",
		Long: `Publish a parameters document to node/<id>/params. With --device only
that device's entry is sent, as {device: params}. With --remote the
document goes to node/<id>/params/remote instead.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("params-file", opts.ParamsFile); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				doc, err := messages.LoadDocument(opts.ParamsFile)
				if err != nil {
					return err
				}
				if opts.Device != "" {
					if doc, err = messages.DeviceParams(doc, opts.Device); err != nil {
						return err
					}
				}
				topic := topics.NodeParamsRoot(nodeID)
				if opts.Remote {
					topic = topics.NodeRemoteParams(nodeID)
				}
				return app.publishAndShow(ctx, nodeID, topic, doc,
					fmt.Sprintf("Published parameters for node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.ParamsFile, "params-file", "", "JSON parameters document (required)")
	cmd.Flags().StringVar(&opts.Device, "device", "", "send only this device's parameters")
	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "publish to params/remote")

	return cmd
}

// NodeInitParamsOptions holds options for the node init-params command.
type NodeInitParamsOptions struct {
	*RootOptions
	NodeID     string
	ParamsFile string
	Local      bool
}

func newNodeInitParamsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeInitParamsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init-params",
		Short: "Publish initial node parameters",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("params-file", opts.ParamsFile); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				doc, err := messages.LoadDocument(opts.ParamsFile)
				if err != nil {
					return err
				}
				topic := topics.NodeInitParams(nodeID)
				if opts.Local {
					topic = topics.NodeLocalInitParams(nodeID)
				}
				return app.publishAndShow(ctx, nodeID, topic, doc,
					fmt.Sprintf("Published initial parameters for node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.ParamsFile, "params-file", "", "JSON parameters document (required)")
	cmd.Flags().BoolVar(&opts.Local, "local", false, "publish to params/local/init")

	return cmd
}

// NodeGroupParamsOptions holds options for the node group-params command.
type NodeGroupParamsOptions struct {
	*RootOptions
	NodeIDs    []string
	ParamsFile string
}

func newNodeGroupParamsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeGroupParamsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "group-params",
		Short: "Publish the same parameters to several nodes",
		Long: `Publish one parameters document to node/<id>/params/group for every node.
A failure on one node is reported and the rest are still sent.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids := splitIDs(opts.NodeIDs)
			if len(ids) == 0 {
				return NewExitError(ExitUsage, "required flag --node-id not set")
			}
			if err := requireFlag("params-file", opts.ParamsFile); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				doc, err := messages.LoadDocument(opts.ParamsFile)
				if err != nil {
					return err
				}

				results := make(map[string]string, len(ids))
				var firstErr error
				for _, nodeID := range ids {
					err := app.Service.Publish(ctx, nodeID, topics.NodeGroupParams(nodeID), doc, app.Service.QoS())
					if err != nil {
						results[nodeID] = err.Error()
						app.Out.Progress("Failed to publish group parameters to node %s: %v", nodeID, err)
						if firstErr == nil {
							firstErr = err
						}
						continue
					}
					results[nodeID] = "ok"
					app.Out.Progress("Published group parameters to node %s", nodeID)
				}

				if err := app.Out.Success(results, ""); err != nil {
					return err
				}
				if firstErr != nil {
					return fmt.Errorf("group parameters not delivered to every node: %w", firstErr)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.NodeIDs, "node-id", nil, "node ids, comma separated (required)")
	cmd.Flags().StringVar(&opts.ParamsFile, "params-file", "", "JSON parameters document (required)")

	return cmd
}

// NodeMonitorOptions holds options for the node monitor command.
type NodeMonitorOptions struct {
	*RootOptions
	NodeID  string
	Timeout int
	Serve   bool
}

func newNodeMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeMonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print every message on a node's topics",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Timeout < 0 {
				return NewExitError(ExitUsage, "--timeout must not be negative")
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				_, err = app.watch(ctx, watchOptions{
					NodeID:  nodeID,
					Topics:  []string{topics.AllNodeTopics(nodeID)},
					QoS:     app.Service.QoS(),
					Timeout: time.Duration(opts.Timeout) * time.Second,
					Serve:   opts.Serve,
				})
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", 60, "seconds to listen (0 until interrupted)")
	cmd.Flags().BoolVar(&opts.Serve, "serve", false, "stream messages to websocket clients")

	return cmd
}

// PresenceOptions holds options for the presence commands.
type PresenceOptions struct {
	*RootOptions
	NodeID          string
	ClientID        string
	ClientInitiated bool
	PrincipalID     string
	SessionID       string
	Version         int
	IPAddress       string
	Reason          string
}

func newPresenceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Publish broker presence events for a node",
	}
	cmd.AddCommand(newPresenceEventCommand(rootOpts, messages.EventConnected))
	cmd.AddCommand(newPresenceEventCommand(rootOpts, messages.EventDisconnected))
	return cmd
}

func newPresenceEventCommand(rootOpts *RootOptions, eventType string) *cobra.Command {
	opts := &PresenceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   eventType,
		Short: fmt.Sprintf("Publish a %s presence event", eventType),
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				return app.publishPresence(ctx, nodeID, eventType, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client id (default "+messages.DefaultPresenceClientID+")")
	cmd.Flags().BoolVar(&opts.ClientInitiated, "client-initiated", true, "mark the event as client initiated")
	cmd.Flags().StringVar(&opts.PrincipalID, "principal-id", "", "principal identifier (default derived from the node certificate)")
	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "session identifier (default random UUID)")
	cmd.Flags().IntVar(&opts.Version, "version-number", 0, "event version number")
	if eventType == messages.EventConnected {
		cmd.Flags().StringVar(&opts.IPAddress, "ip-address", "", "client address (default "+messages.DefaultPresenceIP+")")
	} else {
		cmd.Flags().StringVar(&opts.Reason, "reason", "", "disconnect reason (default "+messages.DefaultDisconnectReason+")")
	}

	return cmd
}

func (a *App) publishPresence(ctx context.Context, nodeID, eventType string, opts *PresenceOptions) error {
	principal := opts.PrincipalID
	if principal == "" {
		certPath := ""
		if id, err := a.Service.ResolveCredentials(nodeID); err == nil {
			certPath = id.CertPath
		}
		principal = messages.PrincipalFromCertPath(certPath, nodeID)
	}

	presence := messages.PresenceOptions{
		ClientID:        opts.ClientID,
		ClientInitiated: opts.ClientInitiated,
		PrincipalID:     principal,
		SessionID:       opts.SessionID,
		Version:         opts.Version,
		IPAddress:       opts.IPAddress,
		Reason:          opts.Reason,
	}

	var (
		event messages.PresenceEvent
		topic string
	)
	if eventType == messages.EventConnected {
		event = messages.NewConnectedEvent(presence, a.now())
		topic = topics.PresenceConnected(nodeID)
	} else {
		event = messages.NewDisconnectedEvent(presence, a.now())
		topic = topics.PresenceDisconnected(nodeID)
	}

	return a.publishAndShow(ctx, nodeID, topic, event,
		fmt.Sprintf("Published %s event for node %s", eventType, nodeID))
}
