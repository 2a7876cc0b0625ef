// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply outstanding schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := NewManager(cmd.Context())
		if err != nil {
			return err
		}

		sp, _ := pterm.DefaultSpinner.WithText("Applying outstanding migrations...").Start()
		applied, err := m.Migrate(cmd.Context())
		if err != nil {
			sp.Fail(fmt.Sprintf("Failed to migrate: %s", err))
			return err
		}

		if applied == 0 {
			sp.Success("Schema is already up to date")
			return nil
		}
		sp.Success(fmt.Sprintf("Applied %d migration(s)", applied))
		return nil
	},
}
