// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duraq/duraq/pkg/job"
	"github.com/duraq/duraq/pkg/worker"
)

func workCmd() *cobra.Command {
	var batchSize int
	var priority bool
	var intervalMs int

	workCmd := &cobra.Command{
		Use:       "work <queue>",
		Short:     "Start a worker polling a queue until interrupted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"queue"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A second interrupt while a graceful stop is still waiting on an
			// in-flight batch means the operator wants out now, not once the
			// handler returns. forceCh carries that second signal.
			forceCh := make(chan os.Signal, 1)
			signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(forceCh)

			m, err := NewStartedManager(ctx)
			if err != nil {
				return err
			}
			defer m.Stop(context.Background())

			opts := worker.Options{
				BatchSize: batchSize,
				Priority:  priority,
				Interval:  time.Duration(intervalMs) * time.Millisecond,
			}

			id, err := m.Work(name, opts, func(ctx context.Context, jobs []*job.Job) (interface{}, error) {
				pterm.Info.Printf("processed %d job(s) from %q\n", len(jobs), name)
				return nil, nil
			})
			if err != nil {
				return fmt.Errorf("starting worker: %w", err)
			}

			pterm.Success.Printf("worker %s polling %q (ctrl-c to stop)\n", id, name)
			<-ctx.Done()
			<-forceCh // consume the signal signal.NotifyContext already observed

			pterm.Info.Println("stopping gracefully, ctrl-c again to force...")
			stoppedCh := make(chan error, 1)
			go func() { stoppedCh <- m.OffWorkByID(id) }()

			select {
			case err := <-stoppedCh:
				return err
			case <-forceCh:
				pterm.Warning.Println("forcing: failing in-flight jobs and exiting")
				return m.FailWip(context.Background())
			}
		},
	}

	workCmd.Flags().IntVar(&batchSize, "batch-size", 1, "Number of jobs claimed per fetch")
	workCmd.Flags().BoolVar(&priority, "priority", false, "Order claimed jobs by priority rather than FIFO")
	workCmd.Flags().IntVar(&intervalMs, "interval", 2000, "Polling interval in milliseconds when idle")

	return workCmd
}
