// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duraq/duraq/pkg/queue"
)

var createQueueCmd = &cobra.Command{
	Use:       "create-queue <name>",
	Short:     "Create a new queue",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"name"},
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		policy, _ := cmd.Flags().GetString("policy")
		deadLetter, _ := cmd.Flags().GetString("dead-letter")

		opts := queue.Options{Policy: queue.Policy(policy)}
		if deadLetter != "" {
			opts.DeadLetter = &deadLetter
		}

		m, err := NewManager(cmd.Context())
		if err != nil {
			return err
		}

		sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Creating queue %q...", name)).Start()
		if err := m.CreateQueue(cmd.Context(), name, opts); err != nil {
			sp.Fail(fmt.Sprintf("Failed to create queue %q: %s", name, err))
			return err
		}

		sp.Success(fmt.Sprintf("Queue %q created", name))
		return nil
	},
}

func init() {
	createQueueCmd.Flags().String("policy", "standard", "Uniqueness policy: standard, short, singleton, stately")
	createQueueCmd.Flags().String("dead-letter", "", "Queue to forward terminally failed jobs to")
}
