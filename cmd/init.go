// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes the job queue, migrating its schema to the latest version",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := NewManager(cmd.Context())
		if err != nil {
			return err
		}

		sp, _ := pterm.DefaultSpinner.WithText("Initializing job queue schema...").Start()
		if err := m.Start(cmd.Context()); err != nil {
			sp.Fail(fmt.Sprintf("Failed to initialize schema: %s", err))
			return err
		}

		sp.Success("Initialization complete")
		return m.Stop(cmd.Context())
	},
}
