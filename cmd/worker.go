package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// workerCmd runs the scheduler and executor without the HTTP API. With valkey
// enabled several workers can share one database.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run scheduled dispatches and pairing sessions without the http api",
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	initApp(ctx)
	if err := manager.Start(ctx); err != nil {
		logrus.Fatalf("[MANAGER] failed to start: %v", err)
	}
	logrus.Infof("[WORKER] %s running, waiting for scheduled dispatches", serverID)

	<-ctx.Done()
	StopApp()
}
