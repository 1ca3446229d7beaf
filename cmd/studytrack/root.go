package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "studytrack",
	Short: "StudyTrack - study interval tracking and aggregation service",
	Long: `StudyTrack records timed study and break intervals inside sessions,
abandons intervals whose client stops sending heartbeats, and rolls finished
intervals up into daily, monthly and yearly statistics.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		// Variables already set in the environment take precedence
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/studytrack/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment overrides from a .env file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
