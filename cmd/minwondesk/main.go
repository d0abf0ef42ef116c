package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"minwondesk/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "minwondesk",
	Short: "Voice-first civic complaint intake kiosk",
	Long: `minwondesk runs the complaint intake dialogue for a walk-in kiosk.

It greets the citizen, asks whether the complaint is personal or public,
records the spoken detail, classifies it to the responsible agency, confirms
the summary and hands the finished complaint to the configured store.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file applied before reading the environment")
	rootCmd.AddCommand(newServeCmd(), newConsoleCmd(), newMigrateCmd())
}

// loadConfig applies the env file and resolves configuration.
func loadConfig() (config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
