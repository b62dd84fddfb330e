package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
)

var (
	cfgFile string
	envFile string

	loader *config.Loader
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Task coordination engine for agent fleets",
	Long: `Conductor routes tasks to a fleet of registered agents.

It keeps an agent directory, schedules pending tasks under a concurrency
ceiling, honors dependencies between tasks, assigns each task to the best
matching agent, and tracks the outcome. Workflows group tasks and finish
when every step has completed.

Run 'conductor serve' to start the engine and its HTTP API.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./conductor.yaml or ~/.config/conductor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}
	// A missing dotenv file is normal outside development.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	var err error
	loader, err = config.NewLoader(cfgFile)
	if err != nil {
		return err
	}
	cfg, err = loader.Config()
	return err
}
