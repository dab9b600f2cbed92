package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "themis-relay",
	Short: "Real-time collaboration relay for Themis",
	Long: `themis-relay serves the chat, document co-editing and call signaling
WebSocket endpoints of Themis.

Examples:
  themis-relay --addr :9000
  themis-relay migrate
  themis-relay doc create --id roadmap-1 --content "Draft"`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to config.yaml")
	flags.String("addr", "", "HTTP listen address")
	flags.String("db", "", "SQLite database path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Duration("autosave-delay", 0, "idle time before an edited document is saved")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(docCmd)
}
