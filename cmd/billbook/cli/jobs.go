package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/billbook/billbook/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueByName(ctx, name)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Failed    int
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	cmd.AddCommand(newJobsTriggerCommand(), newJobsStatsCommand())
	return cmd
}

func withJobsCLI(run func(*JobsCLI, *slog.Logger) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	cli, err := NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := cli.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	return run(cli, logger)
}

func newJobsTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "trigger <name>",
		Short:     "Enqueue a job now",
		Long:      "Enqueue a job with its default payload. Known jobs: low_stock_scan, idempotency_cleanup.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"low_stock_scan", "idempotency_cleanup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobsCLI(func(cli *JobsCLI, logger *slog.Logger) error {
				info, err := cli.Trigger(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				logger.Info("job enqueued", slog.String("task", info.Type), slog.String("id", info.ID))
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.Type, info.ID)
				return nil
			})
		},
	}
}

func newJobsStatsCommand() *cobra.Command {
	var scheduled int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue counters and upcoming scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobsCLI(func(cli *JobsCLI, _ *slog.Logger) error {
				stats, err := cli.InspectQueue()
				if err != nil {
					return err
				}
				out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(out, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tFAILED")
				fmt.Fprintf(out, "%s\t%d\t%d\t%d\t%d\t%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
				if err := out.Flush(); err != nil {
					return err
				}
				if scheduled <= 0 {
					return nil
				}
				tasks, err := cli.ListScheduled(scheduled)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&scheduled, "scheduled", 0, "also list up to N scheduled tasks")
	return cmd
}
