package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/PaulFidika/authstudio/internal/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	appConfig *config.Config
	logger    = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "authstudio",
	Short: "Auth event studio",
	Long: `Serves recorded authentication events to the studio UI: paginated
history, a health probe, live marquee settings and a websocket feed.

Settings come from the config file, then AUTHSTUDIO_* environment
variables. A .env file in the working directory is loaded first.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		file, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(file)
		if err != nil {
			return err
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.Log.Level = "debug"
		}
		if err := configureLogger(logger, cfg.Log); err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("authstudio failed")
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a yaml config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
}
