package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the instance and dispatch tables, then exit",
	Run:   runMigrations,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations(_ *cobra.Command, _ []string) {
	// initApp runs the table migrations.
	initApp(context.Background())
	logrus.Info("[MIGRATION] instance and dispatch tables are up to date")
	StopApp()
}
