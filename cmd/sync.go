package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vidsync/services"
	"vidsync/types"
)

const progressPoll = 500 * time.Millisecond

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var skipSweep bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and wait for its downloads to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var (
				enqueued int
				failures map[string]string
			)
			if skipSweep {
				summary, err := a.engine.SyncAll(ctx)
				if err != nil {
					return err
				}
				enqueued, failures = summary.Enqueued, summary.Failures
			} else {
				report := a.engine.RunCycle(ctx)
				enqueued = report.Sync.Enqueued + len(report.Sweep.Requeued)
				failures = report.Sync.Failures
			}

			out := cmd.ErrOrStderr()
			for _, id := range sortedKeys(failures) {
				fmt.Fprintf(out, "playlist %s: %s\n", id, failures[id])
			}
			if enqueued == 0 {
				fmt.Fprintln(out, "Everything is up to date")
				return nil
			}
			return waitWithProgress(ctx, a.engine, enqueued, out)
		},
	}
	cmd.Flags().BoolVar(&skipSweep, "no-sweep", false, "skip the sponsor segment sweep")
	return cmd
}

// waitWithProgress renders queue progress until every job has finished.
func waitWithProgress(ctx context.Context, engine services.Engine, total int, out io.Writer) error {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)

	done := make(chan error, 1)
	go func() { done <- engine.WaitIdle(ctx) }()

	ticker := time.NewTicker(progressPoll)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			return bar.Finish()
		case <-ticker.C:
			status := engine.Status()
			if desc := describe(status); desc != "" {
				bar.Describe(desc)
			}
			_ = bar.Set(finished(total, status))
		}
	}
}

// finished is the number of jobs no longer pending or running.
func finished(total int, status types.QueueStatus) int {
	n := total - len(status.Active) - status.QueueLength
	if n < 0 {
		return 0
	}
	return n
}

func describe(status types.QueueStatus) string {
	if len(status.Active) == 0 {
		return ""
	}
	job := status.Active[0]
	title := job.Title
	if title == "" {
		title = job.ItemID
	}
	if r := []rune(title); len(r) > 40 {
		title = string(r[:37]) + "..."
	}
	return fmt.Sprintf("%s (%.0f%%)", title, job.Percent)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
