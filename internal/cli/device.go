package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/messages"
	"github.com/nerrad567/fleetctl/internal/session"
)

func newDeviceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Read and change device parameters",
	}
	cmd.AddCommand(newDeviceSetParamCommand(rootOpts))
	cmd.AddCommand(newDeviceShowCommand(rootOpts))
	return cmd
}

// DeviceSetParamOptions holds options for the device set-param command.
type DeviceSetParamOptions struct {
	*RootOptions
	NodeID   string
	Device   string
	Param    string
	Value    string
	DataType string
}

func newDeviceSetParamCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeviceSetParamOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "set-param",
		Short:   "Set one device parameter",
		Long:    "Publish {device: {param: value}} to node/<id>/params.",
		Example: `  fleetctl device set-param --device-name Light --param Power --value true -t bool`,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, f := range [][2]string{{"device-name", opts.Device}, {"param", opts.Param}} {
				if err := requireFlag(f[0], f[1]); err != nil {
					return err
				}
			}
			dt, err := messages.ParseDataType(opts.DataType)
			if err != nil {
				return err
			}
			value, err := messages.ConvertValue(dt, opts.Value)
			if err != nil {
				return err
			}

			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				payload := map[string]any{opts.Device: map[string]any{opts.Param: value}}
				return app.publishAndShow(ctx, nodeID, topics.NodeParamsRoot(nodeID), payload,
					fmt.Sprintf("Set %s %s to %v on node %s", opts.Device, opts.Param, value, nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Device, "device-name", "", "device name (required)")
	cmd.Flags().StringVar(&opts.Param, "param", "", "parameter name (required)")
	cmd.Flags().StringVar(&opts.Value, "value", "", "parameter value")
	cmd.Flags().StringVarP(&opts.DataType, "data-type", "t", string(messages.TypeString), "value type (bool|int|float|string|array|object)")

	return cmd
}

// DeviceShowOptions holds options for the device show command.
type DeviceShowOptions struct {
	*RootOptions
	NodeID  string
	Device  string
	Timeout time.Duration
	Follow  bool
}

func newDeviceShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeviceShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a device's reported parameters",
		Long: `Ask the node for its parameters and print the named device's entry.
With --follow every later report is printed too, until Ctrl-C or --timeout.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("device-name", opts.Device); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				return app.showDevice(ctx, nodeID, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Device, "device-name", "", "device name (required)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for a report (0 until interrupted)")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "keep printing reports")

	return cmd
}

func (a *App) showDevice(ctx context.Context, nodeID string, opts *DeviceShowOptions) error {
	shown := 0
	_, err := a.watch(ctx, watchOptions{
		NodeID:  nodeID,
		Topics:  []string{topics.NodeParamsRoot(nodeID)},
		QoS:     a.Service.QoS(),
		Timeout: opts.Timeout,
		Ready: func(ctx context.Context, nodeID string) error {
			return a.Service.Publish(ctx, nodeID, topics.NodeGetParams(nodeID), "", a.Service.QoS())
		},
		Handle: func(msg session.Message) bool {
			var doc map[string]json.RawMessage
			if err := json.Unmarshal(msg.Payload, &doc); err != nil {
				a.Out.Progress("Ignoring invalid parameters report: %v", err)
				return true
			}
			raw, ok := doc[opts.Device]
			if !ok {
				a.Out.Progress("No parameters reported for device %s", opts.Device)
				return true
			}
			shown++
			a.printDevice(opts.Device, raw)
			return opts.Follow
		},
	})
	if err != nil {
		return err
	}
	if shown == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no report for device %s from node %s", opts.Device, nodeID))
	}
	return nil
}

func (a *App) printDevice(device string, raw json.RawMessage) {
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		//nolint:errcheck // Output errors surface on the next write
		a.Out.Success(map[string]any{device: raw}, fmt.Sprintf("%s: %s", device, messages.Display(raw)))
		return
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s", device, strings.Repeat("-", 20))
	for _, name := range names {
		fmt.Fprintf(&b, "\n%s: %v", name, params[name])
	}
	fmt.Fprintf(&b, "\n%s", strings.Repeat("-", 20))
	//nolint:errcheck // Output errors surface on the next write
	a.Out.Success(map[string]any{device: params}, b.String())
}
