package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/messages"
	"github.com/nerrad567/fleetctl/internal/monitor"
	"github.com/nerrad567/fleetctl/internal/session"
)

// unsubscribeTimeout bounds cleanup after a watch loop is interrupted.
const unsubscribeTimeout = 5 * time.Second

func newMessagingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messaging",
		Short: "Publish and subscribe on raw topics",
	}
	cmd.AddCommand(newPublishCommand(rootOpts))
	cmd.AddCommand(newSubscribeCommand(rootOpts))
	cmd.AddCommand(newUnsubscribeCommand(rootOpts))
	cmd.AddCommand(newMonitorCommand(rootOpts))
	return cmd
}

// PublishOptions holds options for the publish command.
type PublishOptions struct {
	*RootOptions
	NodeID  string
	Topic   string
	Payload string
	QoS     int
}

func newPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "publish",
		Short:   "Publish a payload to a topic",
		Example: `  fleetctl messaging publish --topic node/N1/params/remote --payload '{"Light":{"Power":true}}'`,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("topic", opts.Topic); err != nil {
				return err
			}
			qos, err := validateQoS(opts.QoS)
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if err := app.Service.Publish(ctx, opts.NodeID, opts.Topic, opts.Payload, qos); err != nil {
					return err
				}
				return app.Out.Success(map[string]any{"topic": opts.Topic, "qos": qos},
					fmt.Sprintf("Published to %s", opts.Topic))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload, sent as is")
	cmd.Flags().IntVar(&opts.QoS, "qos", 1, "QoS level (0, 1 or 2)")

	return cmd
}

// SubscribeOptions holds options for the subscribe command.
type SubscribeOptions struct {
	*RootOptions
	NodeID string
	Topic  string
	QoS    int
	Wait   time.Duration
}

func newSubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubscribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a topic",
		Long: `Subscribe to a topic filter. Subscriptions live as long as the process,
so --wait keeps the command running and prints what arrives.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("topic", opts.Topic); err != nil {
				return err
			}
			qos, err := validateQoS(opts.QoS)
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if opts.Wait <= 0 {
					if _, err := app.Service.Subscribe(ctx, opts.NodeID, opts.Topic, qos, nil); err != nil {
						return err
					}
					return app.Out.Success(map[string]any{"topic": opts.Topic, "qos": qos},
						fmt.Sprintf("Subscribed to %s", opts.Topic))
				}
				_, err := app.watch(ctx, watchOptions{
					NodeID:  opts.NodeID,
					Topics:  []string{opts.Topic},
					QoS:     qos,
					Timeout: opts.Wait,
				})
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic filter (required)")
	cmd.Flags().IntVar(&opts.QoS, "qos", 1, "QoS level (0, 1 or 2)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "print messages for this long")

	return cmd
}

// UnsubscribeOptions holds options for the unsubscribe command.
type UnsubscribeOptions struct {
	*RootOptions
	NodeID string
	Topic  string
}

func newUnsubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UnsubscribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Unsubscribe from a topic",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("topic", opts.Topic); err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if err := app.Service.Unsubscribe(ctx, opts.NodeID, opts.Topic); err != nil {
					return err
				}
				return app.Out.Success(map[string]any{"topic": opts.Topic},
					fmt.Sprintf("Unsubscribed from %s", opts.Topic))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic filter (required)")

	return cmd
}

// MonitorOptions holds options for the monitor command.
type MonitorOptions struct {
	*RootOptions
	NodeID  string
	Topic   string
	QoS     int
	Timeout time.Duration
	Serve   bool
}

func newMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print messages on a topic until interrupted",
		Long: `Subscribe to a topic filter and print every message until Ctrl-C or
--timeout. With --serve the messages are also streamed to websocket
clients on the configured monitor address.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("topic", opts.Topic); err != nil {
				return err
			}
			qos, err := validateQoS(opts.QoS)
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				_, err := app.watch(ctx, watchOptions{
					NodeID:  opts.NodeID,
					Topics:  []string{opts.Topic},
					QoS:     qos,
					Timeout: opts.Timeout,
					Serve:   opts.Serve,
				})
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic filter (required)")
	cmd.Flags().IntVar(&opts.QoS, "qos", 1, "QoS level (0, 1 or 2)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop after this long (default until interrupted)")
	cmd.Flags().BoolVar(&opts.Serve, "serve", false, "stream messages to websocket clients")

	return cmd
}

// watchOptions configure App.watch.
type watchOptions struct {
	NodeID  string
	Topics  []string
	QoS     byte
	Timeout time.Duration
	Serve   bool
	// Handle, when set, is called for every message instead of printing it.
	// Returning false ends the loop.
	Handle func(session.Message) bool
	// Ready, when set, runs once every subscription is in place.
	Ready func(ctx context.Context, nodeID string) error
}

// MessageView is the printed form of one received message.
type MessageView struct {
	NodeID   string    `json:"node_id"`
	Topic    string    `json:"topic"`
	Payload  string    `json:"payload"`
	Received time.Time `json:"received"`
}

// watch subscribes to every topic and consumes the messages until ctx
// ends, the timeout elapses or Handle returns false. The subscriptions
// are released before it returns. It reports the number of messages seen.
func (a *App) watch(ctx context.Context, opts watchOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		nodeID string
		chans  []<-chan session.Message
		subbed []string
	)
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
		defer cancel()
		for _, topic := range subbed {
			if err := a.Service.Unsubscribe(cleanup, nodeID, topic); err != nil {
				a.Logger.Debug("unsubscribe after watch failed", "topic", topic, "error", err)
			}
		}
	}()

	for _, topic := range opts.Topics {
		h, err := a.Service.Subscribe(ctx, opts.NodeID, topic, opts.QoS, nil)
		if err != nil {
			return 0, err
		}
		nodeID = h.NodeID()
		subbed = append(subbed, topic)

		ch, err := h.Messages(topic)
		if err != nil {
			return 0, err
		}
		chans = append(chans, ch)
	}

	if opts.Ready != nil {
		if err := opts.Ready(ctx, nodeID); err != nil {
			return 0, err
		}
	}

	var relay chan session.Message
	if opts.Serve {
		srv := monitor.New(monitor.Deps{
			Config:      a.Config.Monitor,
			Logger:      a.Logger,
			Connections: a.Service,
			Version:     a.opts.Version,
		})
		if err := srv.Start(ctx); err != nil {
			return 0, err
		}
		defer srv.Close() //nolint:errcheck // Shutdown errors are logged by the server

		relay = make(chan session.Message, a.Config.Session.HistorySize+1)
		defer close(relay)
		go srv.Relay(ctx, nodeID, relay)
		a.Out.Progress("Streaming on ws://%s/ws", srv.Addr())
	}

	merged := fanIn(ctx, chans)
	a.Out.Progress("Listening on %d topic(s) for node %s; press Ctrl-C to stop", len(opts.Topics), nodeID)

	count := 0
	for {
		select {
		case <-ctx.Done():
			a.Out.Progress("Received %d message(s)", count)
			return count, nil
		case msg, ok := <-merged:
			if !ok {
				return count, nil
			}
			count++
			if relay != nil {
				select {
				case relay <- msg:
				default:
				}
			}
			if opts.Handle != nil {
				if !opts.Handle(msg) {
					return count, nil
				}
				continue
			}
			a.printMessage(nodeID, msg)
		}
	}
}

func (a *App) printMessage(nodeID string, msg session.Message) {
	text := fmt.Sprintf("[%s] %s\n%s", msg.Received.Format(time.TimeOnly), msg.Topic, messages.Display(msg.Payload))
	//nolint:errcheck // Output errors surface on the next write
	a.Out.Success(MessageView{
		NodeID:   nodeID,
		Topic:    msg.Topic,
		Payload:  string(msg.Payload),
		Received: msg.Received,
	}, text)
}

// fanIn merges chans into one channel that closes once every input has
// closed or ctx ends.
func fanIn(ctx context.Context, chans []<-chan session.Message) <-chan session.Message {
	out := make(chan session.Message)
	var wg sync.WaitGroup
	for _, ch := range chans {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ch {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
