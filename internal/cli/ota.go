package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetctl/internal/messages"
	"github.com/nerrad567/fleetctl/internal/session"
)

func newOTACommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ota",
		Short: "Drive over-the-air firmware updates",
	}
	cmd.AddCommand(newOTAFetchCommand(rootOpts))
	cmd.AddCommand(newOTAStatusCommand(rootOpts))
	cmd.AddCommand(newOTARequestCommand(rootOpts))
	return cmd
}

// OTAFetchOptions holds options for the ota fetch command.
type OTAFetchOptions struct {
	*RootOptions
	NodeID    string
	FWVersion string
	NetworkID string
}

func newOTAFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OTAFetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Ask the cloud for an OTA job",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetch, err := messages.NewOTAFetch(opts.FWVersion, opts.NetworkID)
			if err != nil {
				return WrapExitError(ExitUsage, "required flag --fw-version not set", err)
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				nodeID, err := app.targetNode(opts.NodeID)
				if err != nil {
					return err
				}
				return app.publishAndShow(ctx, nodeID, topics.NodeOTAFetch(nodeID), fetch,
					fmt.Sprintf("Requested OTA job for node %s", nodeID))
			})
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (default active node)")
	cmd.Flags().StringVar(&opts.FWVersion, "fw-version", "", "current firmware version (required)")
	cmd.Flags().StringVar(&opts.NetworkID, "network-id", "", "network id")

	return cmd
}

// OTAStatusOptions holds options for the ota status command.
type OTAStatusOptions struct {
	*RootOptions
	NodeIDs   []string
	Status    string
	JobID     string
	NetworkID string
	Info      string
}

func newOTAStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OTAStatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report OTA job progress",
		Long: `Publish an OTA status update for one or more nodes. Status is one of
success, failed, in-progress, rejected or delayed.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := messages.ParseOTAStatus(opts.Status)
			if err != nil {
				return err
			}
			update, err := messages.NewOTAStatus(status, opts.JobID, opts.NetworkID, opts.Info)
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				ids := splitIDs(opts.NodeIDs)
				if len(ids) == 0 {
					nodeID, err := app.targetNode("")
					if err != nil {
						return err
					}
					ids = []string{nodeID}
				}

				results := make(map[string]string, len(ids))
				var firstErr error
				for _, nodeID := range ids {
					if err := app.Service.Publish(ctx, nodeID, topics.NodeOTAStatus(nodeID), update, app.Service.QoS()); err != nil {
						results[nodeID] = err.Error()
						app.Out.Progress("Failed to report status for node %s: %v", nodeID, err)
						if firstErr == nil {
							firstErr = err
						}
						continue
					}
					results[nodeID] = string(status)
					app.Out.Progress("Reported %s for node %s", status, nodeID)
				}

				if err := app.Out.Success(results, ""); err != nil {
					return err
				}
				return firstErr
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.NodeIDs, "node-id", nil, "node ids, comma separated (default active node)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "job status (required)")
	cmd.Flags().StringVar(&opts.JobID, "job-id", "", "OTA job id (required)")
	cmd.Flags().StringVar(&opts.NetworkID, "network-id", "", "network id")
	cmd.Flags().StringVar(&opts.Info, "info", "", "additional information")

	return cmd
}

// OTARequestOptions holds options for the ota request command.
type OTARequestOptions struct {
	*RootOptions
	NodeIDs   []string
	FWVersion string
	NetworkID string
	Status    string
	Info      string
	Timeout   int
}

func newOTARequestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OTARequestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request OTA jobs and answer them",
		Long: `Listen on node/<id>/otaurl, publish an OTA fetch for every node and wait
for the cloud to answer with a job. Each job is answered with a status
picked from a menu, or with --status when given. The command ends when
every node has answered or the timeout elapses.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOTARequest(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.NodeIDs, "node-id", nil, "node ids, comma separated (default active node)")
	cmd.Flags().StringVar(&opts.FWVersion, "fw-version", "", "current firmware version (required)")
	cmd.Flags().StringVar(&opts.NetworkID, "network-id", "", "network id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "answer every job with this status instead of prompting")
	cmd.Flags().StringVar(&opts.Info, "info", "", "additional information sent with --status")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", 60, "seconds to wait for jobs")

	return cmd
}

// OTARequestResult is the output of the ota request command.
type OTARequestResult struct {
	Jobs    map[string]OTAJobResult `json:"jobs"`
	Failed  map[string]string       `json:"failed,omitempty"`
	Pending []string                `json:"pending,omitempty"`
}

// OTAJobResult is one answered job.
type OTAJobResult struct {
	JobID  string `json:"ota_job_id"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"` // empty when skipped
}

func runOTARequest(cmd *cobra.Command, opts *OTARequestOptions) error {
	fetch, err := messages.NewOTAFetch(opts.FWVersion, opts.NetworkID)
	if err != nil {
		return WrapExitError(ExitUsage, "required flag --fw-version not set", err)
	}
	var fixed messages.OTAStatus
	if opts.Status != "" {
		if fixed, err = messages.ParseOTAStatus(opts.Status); err != nil {
			return err
		}
	}
	if opts.Timeout <= 0 {
		return NewExitError(ExitUsage, "--timeout must be positive")
	}

	return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
		ids := splitIDs(opts.NodeIDs)
		if len(ids) == 0 {
			nodeID, err := app.targetNode("")
			if err != nil {
				return err
			}
			ids = []string{nodeID}
		}

		ctx, cancel := context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Second)
		defer cancel()

		result := OTARequestResult{
			Jobs:   make(map[string]OTAJobResult),
			Failed: make(map[string]string),
		}
		qos := app.Service.QoS()
		pending := make(map[string]bool, len(ids))
		var (
			chans      []<-chan session.Message
			subscribed []string
		)

		defer func() {
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
			defer cancel()
			for _, nodeID := range subscribed {
				if err := app.Service.Unsubscribe(cleanup, nodeID, topics.NodeOTAURL(nodeID)); err != nil {
					app.Logger.Debug("unsubscribe after OTA request failed", "node_id", nodeID, "error", err)
				}
			}
		}()

		var firstErr error
		for _, nodeID := range ids {
			ch, err := app.requestOTAJob(ctx, nodeID, fetch, qos)
			if err != nil {
				result.Failed[nodeID] = err.Error()
				app.Out.Progress("Failed to request OTA job for node %s: %v", nodeID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			pending[nodeID] = true
			subscribed = append(subscribed, nodeID)
			chans = append(chans, ch)
		}
		if len(pending) == 0 {
			return firstErr
		}

		app.Out.Progress("Waiting up to %ds for OTA jobs from %d node(s)", opts.Timeout, len(pending))
		merged := fanIn(ctx, chans)
		in := bufio.NewScanner(cmd.InOrStdin())

	loop:
		for len(pending) > 0 {
			select {
			case <-ctx.Done():
				break loop
			case msg, ok := <-merged:
				if !ok {
					break loop
				}
				nodeID, ok := mqtt.NodeIDFromTopic(msg.Topic)
				if !ok || !pending[nodeID] {
					continue
				}
				job, err := messages.ParseOTAJob(msg.Payload)
				if err != nil {
					app.Out.Progress("Ignoring invalid OTA job from node %s: %v", nodeID, err)
					continue
				}
				delete(pending, nodeID)
				app.Out.Progress("OTA job for node %s:\n%s", nodeID, messages.Display(job.Raw))

				status, info := fixed, opts.Info
				if status == "" {
					status, info = app.promptOTAStatus(in, nodeID)
				}
				jr := OTAJobResult{JobID: job.JobID, URL: job.URL}
				if status == "" {
					app.Out.Progress("Skipped node %s", nodeID)
					result.Jobs[nodeID] = jr
					continue
				}

				if err := app.answerOTAJob(ctx, nodeID, job, status, info, opts.NetworkID); err != nil {
					result.Failed[nodeID] = err.Error()
					app.Out.Progress("Failed to report status for node %s: %v", nodeID, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				jr.Status = string(status)
				result.Jobs[nodeID] = jr
				app.Out.Progress("Reported %s for node %s", status, nodeID)
			}
		}

		result.Pending = sortedKeys(pending)
		text := fmt.Sprintf("Answered %d OTA job(s)", len(result.Jobs))
		if len(result.Pending) > 0 {
			text += fmt.Sprintf("; no job received from: %s", strings.Join(result.Pending, ", "))
		}
		if err := app.Out.Success(result, text); err != nil {
			return err
		}
		return firstErr
	})
}

// requestOTAJob subscribes to the node's otaurl topic and publishes the
// fetch request. The returned channel carries the cloud's answers. The
// subscription is released again when the request cannot be sent.
func (a *App) requestOTAJob(ctx context.Context, nodeID string, fetch messages.OTAFetch, qos byte) (<-chan session.Message, error) {
	topic := topics.NodeOTAURL(nodeID)
	h, err := a.Service.Subscribe(ctx, nodeID, topic, qos, nil)
	if err != nil {
		return nil, err
	}
	ch, err := h.Messages(topic)
	if err != nil {
		return nil, err
	}
	if err := a.Service.Publish(ctx, nodeID, topics.NodeOTAFetch(nodeID), fetch, qos); err != nil {
		if uerr := h.Unsubscribe(context.WithoutCancel(ctx), topic); uerr != nil {
			a.Logger.Debug("unsubscribe after failed OTA fetch", "node_id", nodeID, "error", uerr)
		}
		return nil, err
	}
	return ch, nil
}

func (a *App) answerOTAJob(ctx context.Context, nodeID string, job messages.OTAJob, status messages.OTAStatus, info, networkID string) error {
	if networkID == "" {
		networkID = job.NetworkID
	}
	update, err := messages.NewOTAStatus(status, job.JobID, networkID, info)
	if err != nil {
		return err
	}
	return a.Service.Publish(ctx, nodeID, topics.NodeOTAStatus(nodeID), update, a.Service.QoS())
}

// promptOTAStatus asks the operator for a status. An empty status means
// the job is skipped, which is also the answer when input ends.
func (a *App) promptOTAStatus(in *bufio.Scanner, nodeID string) (messages.OTAStatus, string) {
	w := a.Out.GetErrWriter()
	for {
		fmt.Fprintf(w, "Select status for node %s:\n", nodeID)
		for i, s := range messages.OTAStatuses {
			fmt.Fprintf(w, "  %d) %s\n", i+1, s)
		}
		fmt.Fprint(w, "  0) skip\nChoice: ")

		if !in.Scan() {
			fmt.Fprintln(w)
			return "", ""
		}
		choice, err := strconv.Atoi(strings.TrimSpace(in.Text()))
		if err == nil && choice == 0 {
			return "", ""
		}
		if status, info, ok := messages.StatusChoice(choice); err == nil && ok {
			return status, info
		}
		fmt.Fprintf(w, "Invalid choice %q\n", in.Text())
	}
}
