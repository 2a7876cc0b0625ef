// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duraq/duraq/cmd/flags"
)

type statusLine struct {
	Schema          string
	Version         int
	MigratorVersion string
	Status          string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the job queue schema status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		m, err := NewManager(ctx)
		if err != nil {
			return err
		}

		version, migrator, err := m.SchemaVersion(ctx)
		if err != nil {
			return err
		}

		status := "Not initialized"
		if version > 0 {
			status = "Initialized"
		}

		line := statusLine{
			Schema:          flags.Schema(),
			Version:         version,
			MigratorVersion: migrator,
			Status:          status,
		}

		statusJSON, err := json.MarshalIndent(line, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(statusJSON))
		return nil
	},
}
