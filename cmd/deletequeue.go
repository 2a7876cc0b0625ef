// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var deleteQueueCmd = &cobra.Command{
	Use:       "delete-queue <name>",
	Short:     "Delete a queue and its partition",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"name"},
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		m, err := NewManager(cmd.Context())
		if err != nil {
			return err
		}

		sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Deleting queue %q...", name)).Start()
		if err := m.DeleteQueue(cmd.Context(), name); err != nil {
			sp.Fail(fmt.Sprintf("Failed to delete queue %q: %s", name, err))
			return err
		}

		sp.Success(fmt.Sprintf("Queue %q deleted", name))
		return nil
	},
}
