// Command attempt drives a verification attempt against a relay from the
// terminal, printing every state the verification page would render.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	relayURL      string
	bearer        string
	logLevel      string
	timeout       time.Duration
	providersFile string
)

var rootCmd = &cobra.Command{
	Use:   "attempt",
	Short: "Run verification attempts against a gatekeeper relay",
	Long: `Run verification attempts against a gatekeeper relay.

Available subcommands:
  run - Play a full attempt and print each state as a JSON line
  ip  - Discover the public address through the fallback providers`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", envOr("GATEKEEPER_RELAY_URL", "http://localhost:8080"), "relay base URL")
	rootCmd.PersistentFlags().StringVar(&bearer, "bearer", os.Getenv("RELAY_SHARED_SECRET"), "shared secret for guild-scoped confirmations")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers", os.Getenv("PROVIDERS_FILE"), "YAML provider lists (built-in lists when empty)")

	rootCmd.AddCommand(runCmd, ipCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
