package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"budgetsync/internal/cli"
	"budgetsync/internal/config"
	applog "budgetsync/internal/log"
)

var (
	cfgFile  string
	logLevel string

	// Populated by initConfig before any subcommand runs.
	appConfig *config.Config
	logger    *applog.Logger

	rootCmd = &cobra.Command{
		Use:   "budgetsync",
		Short: "Offline-first budget tracker with cloud sync",
		Long: `budgetsync records categories and transactions in a local SQLite store and
mirrors every change to a per-user remote document store in the background.

Writes return as soon as they are stored locally; use 'budgetsync sync status'
to see what is still waiting to reach the remote store.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./budgetsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(categoriesCmd())
	rootCmd.AddCommand(transactionsCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(reportCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	appConfig = cfg
	logger = cli.SetupLogger(cfg.LogLevel, applog.ComponentCLI, cmd.ErrOrStderr())
	return nil
}
