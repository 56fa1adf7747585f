package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shevd/shev/pkg/client"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var serverURL string

func main() {
	// a local .env can carry SHEV_URL and SHEV_DB
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shev",
	Short: "Shev - shell event dispatcher",
	Long: `Shev runs shell commands in response to events. Handlers bind an
event type to a command; timers and schedules produce events on their
own; one-off events can be sent over the REST API or this CLI.

All commands except 'serve' talk to a running dispatcher.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shev version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "",
		"Dispatcher URL (default $SHEV_URL or http://127.0.0.1:3000)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(handlerCmd)
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(reloadCmd)
}

// apiClient resolves the dispatcher URL from the flag, the environment,
// or the default local address
func apiClient() *client.Client {
	url := serverURL
	if url == "" {
		url = os.Getenv("SHEV_URL")
	}
	if url == "" {
		url = "http://127.0.0.1:3000"
	}
	return client.New(url)
}
