package main

import (
	"fmt"
	"os"

	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "planloop",
	Short:         "Plan, execute, observe and evaluate until the objective is met.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = observability.InitializeStdout(cfg.Log)
		logger.Debug("configuration loaded", zap.String("command", cmd.Name()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./planloop.yaml)")
	rootCmd.AddCommand(serveCmd, runCmd, surfCmd, ingestCmd, queryCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
