// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duraq/duraq/pkg/job"
)

var sendCmd = &cobra.Command{
	Use:       "send <queue> <json-data>",
	Short:     "Enqueue a single job",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"queue", "data"},
	RunE: func(cmd *cobra.Command, args []string) error {
		name, rawData := args[0], args[1]

		if !json.Valid([]byte(rawData)) {
			return fmt.Errorf("data %q is not valid JSON", rawData)
		}

		m, err := NewManager(cmd.Context())
		if err != nil {
			return err
		}

		sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Sending job to %q...", name)).Start()
		id, err := m.Send(cmd.Context(), name, json.RawMessage(rawData), job.InsertOptions{})
		if err != nil {
			sp.Fail(fmt.Sprintf("Failed to send job: %s", err))
			return err
		}
		if id == "" {
			sp.Warning(fmt.Sprintf("Send to %q was swallowed by queue policy", name))
			return nil
		}

		sp.Success(fmt.Sprintf("Sent job %s to %q", id, name))
		return nil
	},
}
