package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"replog/pkg/config"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	port       int
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "replog",
		Short:         "Replicated append-only log with tunable write concern",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to YAML config")
	root.PersistentFlags().IntVar(&flags.port, "port", 0, "HTTP port (overrides config and REPLOG_PORT)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	root.AddCommand(
		newMasterCmd(&flags),
		newSecondaryCmd(&flags),
		newSubmitCmd(),
		newListCmd(),
	)
	return root
}

// loadConfig resolves file, environment and flags, in that order.
func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := initConfig(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}
	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
