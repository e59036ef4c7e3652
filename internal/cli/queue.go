package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/config"
	"github.com/roach88/unifeed/internal/engine"
	"github.com/roach88/unifeed/internal/feed"
	"github.com/roach88/unifeed/internal/platform"
	"github.com/roach88/unifeed/internal/queue"
)

// QueueListResult holds the queue list payload for JSON output.
type QueueListResult struct {
	Count   int                   `json:"count"`
	Actions []action.QueuedAction `json:"actions"`
}

// QueueFlushResult holds the flush outcome for JSON output.
type QueueFlushResult struct {
	Replayed  int `json:"replayed"`
	Remaining int `json:"remaining"`
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the offline action queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueFlushCommand(rootOpts))

	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List pending offline actions in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(rootOpts, cmd)
		},
	}
}

func newQueueFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "flush",
		Short:         "Replay pending offline actions against their platforms",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueFlush(rootOpts, cmd)
		},
	}
}

func runQueueList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}

	q, err := queue.Open(cfg.Queue.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open queue", err)
	}
	defer q.Close()

	items := q.Snapshot()
	formatter.VerboseLog("queue at %s holds %d action(s)", cfg.Queue.DBPath, len(items))

	if formatter.JSON() {
		return formatter.Success(QueueListResult{Count: len(items), Actions: items})
	}

	if len(items) == 0 {
		fmt.Fprintln(formatter.Writer, "queue is empty")
		return nil
	}
	for i, item := range items {
		fmt.Fprintf(formatter.Writer, "%d. %-9s %s [%s] queued %s\n",
			i+1, item.Type, item.FetchPostID(), item.Platform,
			item.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runQueueFlush(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}

	q, err := queue.Open(cfg.Queue.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open queue", err)
	}
	defer q.Close()

	before := q.Len()
	formatter.VerboseLog("replaying %d queued action(s)", before)

	coord := engine.NewCoordinator(action.NewStore(), q, buildClients(cfg))
	flushErr := coord.FlushQueuedOfflineActions(cmd.Context())
	remaining := q.Len()

	result := QueueFlushResult{Replayed: before - remaining, Remaining: remaining}

	if flushErr != nil {
		_ = formatter.Error(ErrCodeOffline, "flush interrupted, actions kept queued", result)
		return WrapExitError(ExitFailure, "flush interrupted", flushErr)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "replayed %d action(s), %d remaining\n", result.Replayed, result.Remaining)
	return nil
}

// buildClients wires one API client per configured account. Later accounts
// on the same platform win; the engine keys dispatch by platform.
func buildClients(cfg config.Config) map[feed.Platform]engine.PostActionNetworking {
	clients := make(map[feed.Platform]engine.PostActionNetworking, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		switch acct.Platform {
		case feed.PlatformMastodon:
			clients[acct.Platform] = platform.NewMastodonClient(acct.Server, acct.AccessToken)
		case feed.PlatformBluesky:
			clients[acct.Platform] = platform.NewBlueskyClient(acct.Server, acct.DID, acct.AccessToken)
		}
	}
	return clients
}
