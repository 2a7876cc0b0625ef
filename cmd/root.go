// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duraq/duraq/cmd/flags"
	"github.com/duraq/duraq/pkg/manager"
)

// Version is the duraqctl version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("DURAQ")
	viper.AutomaticEnv()

	flags.PgConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "duraqctl",
	SilenceUsage: true,
	Version:      Version,
}

// NewManager opens a Manager against the postgres-url/schema/... flags
// bound in this process, ready to Start.
func NewManager(ctx context.Context) (*manager.Manager, error) {
	cfg := manager.Config{
		Schema:                flags.Schema(),
		PollingInterval:       flags.PollingInterval(),
		ExpireInDefault:       flags.ExpireInDefault(),
		KeepUntilDefault:      flags.KeepUntilDefault(),
		RetryLimitDefault:     flags.RetryLimitDefault(),
		RetryDelayDefault:     flags.RetryDelayDefault(),
		RetryBackoffDefault:   flags.RetryBackoffDefault(),
		ArchiveCompletedAfter: flags.ArchiveCompletedAfter(),
		MonitorStateInterval:  flags.MonitorStateInterval(),
		BinaryVersion:         Version,
		LockTimeoutMs:         flags.LockTimeout(),
		Role:                  flags.Role(),
	}

	return manager.New(ctx, flags.PostgresURL(), cfg)
}

// NewStartedManager opens a Manager and starts it (migrating the schema to
// its latest version and launching its background goroutines).
func NewStartedManager(ctx context.Context) (*manager.Manager, error) {
	m, err := NewManager(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createQueueCmd)
	rootCmd.AddCommand(deleteQueueCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(workCmd())

	return rootCmd.Execute()
}
