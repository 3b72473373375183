package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/messages"
)

func newTSDataCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tsdata",
		Short: "Send time-series data on behalf of a node",
	}
	cmd.AddCommand(newTSDataSendCommand(rootOpts))
	cmd.AddCommand(newTSDataBatchCommand(rootOpts))
	return cmd
}

// TSDataSendOptions holds options for the tsdata send command.
type TSDataSendOptions struct {
	*RootOptions
	DataType    string
	Simple      bool
	ExpiryDays  int
	BasicIngest bool
}

func newTSDataSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TSDataSendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send NODE_ID PARAM VALUE",
		Short: "Send one time-series value",
		Example: `  fleetctl tsdata send N1 temperature 21.5
  fleetctl tsdata send N1 online true -t bool --simple -d 7`,
		Args: usageArgs(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, param, raw := args[0], args[1], args[2]
			dt, err := messages.ParseDataType(opts.DataType)
			if err != nil {
				return err
			}
			value, err := messages.ConvertValue(dt, raw)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("expiry-days") && !opts.Simple {
				return NewExitError(ExitUsage, "--expiry-days applies to --simple only")
			}

			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if opts.Simple {
					var expiry *int
					if cmd.Flags().Changed("expiry-days") {
						expiry = &opts.ExpiryDays
					}
					doc, err := messages.NewSimpleTSData(param, dt, value, app.now(), expiry)
					if err != nil {
						return err
					}
					return app.publishAndShow(ctx, nodeID, topics.NodeSimpleTSData(nodeID, opts.BasicIngest), doc,
						fmt.Sprintf("Sent %s for node %s", param, nodeID))
				}

				doc, err := messages.NewTSData(param, dt, []any{value}, app.now(), 0)
				if err != nil {
					return err
				}
				return app.publishAndShow(ctx, nodeID, topics.NodeTSData(nodeID, opts.BasicIngest), doc,
					fmt.Sprintf("Sent %s for node %s", param, nodeID))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.DataType, "data-type", "t", string(messages.TypeFloat), "value type (bool|int|float|string|array|object)")
	cmd.Flags().BoolVar(&opts.Simple, "simple", false, "use the simple format")
	cmd.Flags().IntVarP(&opts.ExpiryDays, "expiry-days", "d", 0, "expiry in days (simple format only)")
	cmd.Flags().BoolVar(&opts.BasicIngest, "basic-ingest", false, "publish through the basic ingest rule topic")

	return cmd
}

// TSDataBatchOptions holds options for the tsdata batch command.
type TSDataBatchOptions struct {
	*RootOptions
	DataType    string
	Interval    int
	BasicIngest bool
}

func newTSDataBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TSDataBatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "batch NODE_ID PARAM VALUE...",
		Short:   "Send several values of one parameter",
		Long:    "Send several values in one document. Record i is stamped now + i*interval.",
		Example: `  fleetctl tsdata batch N1 temperature 21.5 21.7 22.0 --interval 60`,
		Args:    usageArgs(cobra.MinimumNArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, param := args[0], args[1]
			if opts.Interval <= 0 {
				return NewExitError(ExitUsage, "--interval must be positive")
			}
			dt, err := messages.ParseDataType(opts.DataType)
			if err != nil {
				return err
			}
			values, err := messages.ConvertValues(dt, args[2:])
			if err != nil {
				return err
			}

			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				doc, err := messages.NewTSData(param, dt, values, app.now(), time.Duration(opts.Interval)*time.Second)
				if err != nil {
					return err
				}
				return app.publishAndShow(ctx, nodeID, topics.NodeTSData(nodeID, opts.BasicIngest), doc,
					fmt.Sprintf("Sent %d value(s) of %s for node %s", len(values), param, nodeID))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.DataType, "data-type", "t", string(messages.TypeFloat), "value type (bool|int|float|string|array|object)")
	cmd.Flags().IntVar(&opts.Interval, "interval", 30, "seconds between records")
	cmd.Flags().BoolVar(&opts.BasicIngest, "basic-ingest", false, "publish through the basic ingest rule topic")

	return cmd
}
