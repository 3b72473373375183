package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/identity"
	"github.com/nerrad567/fleetctl/internal/infrastructure/config"
	"github.com/nerrad567/fleetctl/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/ledger"
	"github.com/nerrad567/fleetctl/internal/messages"
	"github.com/nerrad567/fleetctl/internal/orchestrator"
	"github.com/nerrad567/fleetctl/internal/tsmirror"
)

// App is the per-invocation component graph. It is built once by a
// command and closed when the command returns.
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Identity *identity.Store
	Ledger   *ledger.Ledger
	Service  *orchestrator.Service
	Out      *OutputFormatter

	influx *influxdb.Client
	opts   *RootOptions
}

// openApp loads configuration and wires the stores, the optional
// time-series mirror and the connection service.
func openApp(cmd *cobra.Command, opts *RootOptions) (*App, error) {
	ctx := commandContext(cmd)

	dir := opts.ConfigDir
	if dir == "" {
		dir = config.DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "loading configuration", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	logOut := cmd.ErrOrStderr()
	if strings.EqualFold(cfg.Logging.Output, "stdout") {
		logOut = cmd.OutOrStdout()
	}
	logger := logging.NewWithWriter(cfg.Logging, opts.Version, logOut)

	app := &App{
		Config: cfg,
		Logger: logger,
		Out:    newFormatter(cmd, opts),
		opts:   opts,
	}

	app.Identity, err = identity.Open(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	app.Ledger, err = ledger.Open(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("opening connection ledger: %w", err)
	}

	svcOpts := orchestrator.Options{
		Config:         cfg,
		Identity:       app.Identity,
		Dialer:         opts.Dialer,
		Ledger:         app.Ledger,
		Logger:         logger,
		SessionOptions: opts.SessionOptions,
	}
	if mirror := app.openMirror(ctx); mirror != nil {
		svcOpts.Observer = mirror
	}

	app.Service, err = orchestrator.New(ctx, svcOpts)
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// openMirror connects the time-series mirror when it is enabled. A mirror
// that cannot connect is reported and skipped; publishing still works.
func (a *App) openMirror(ctx context.Context) *tsmirror.Mirror {
	client, err := influxdb.Connect(ctx, a.Config.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		return nil
	case err != nil:
		a.Logger.Warn("time-series mirror unavailable", "url", a.Config.InfluxDB.URL, "error", err)
		return nil
	}

	client.SetOnError(func(err error) {
		a.Logger.Warn("time-series mirror write failed", "error", err)
	})
	a.influx = client
	return tsmirror.New(client, a.Logger)
}

// Close releases live sessions, flushes the mirror and closes the ledger.
// Stored connections are kept.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.Close()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.Logger.Debug("closing time-series mirror", "error", err)
		}
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			a.Logger.Debug("closing connection ledger", "error", err)
		}
	}
}

func (a *App) now() time.Time {
	if a.opts.Now != nil {
		return a.opts.Now()
	}
	return time.Now()
}

// publishAndShow publishes payload for nodeID and echoes it.
func (a *App) publishAndShow(ctx context.Context, nodeID, topic string, payload any, success string) error {
	if err := a.Service.Publish(ctx, nodeID, topic, payload, a.Service.QoS()); err != nil {
		return err
	}

	text := success
	if data, err := json.Marshal(payload); err == nil {
		text += "\n" + messages.Display(data)
	}
	return a.Out.Success(map[string]any{
		"node_id": nodeID,
		"topic":   topic,
		"payload": payload,
	}, text)
}

// runWithApp opens the App around fn.
func runWithApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) error {
	app, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(commandContext(cmd), app)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// splitIDs flattens repeated and comma-separated node id flags.
func splitIDs(values []string) []string {
	var ids []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewExitError(ExitUsage, fmt.Sprintf("required flag --%s not set", name))
	}
	return nil
}

func validateQoS(qos int) (byte, error) {
	if qos < 0 || qos > 2 {
		return 0, NewExitError(ExitUsage, fmt.Sprintf("invalid --qos %d: must be 0, 1 or 2", qos))
	}
	return byte(qos), nil
}
