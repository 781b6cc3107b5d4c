// Forged is an autonomous build orchestration daemon.
//
// It accepts locked intent contracts over HTTP, fans build tasks out to a
// pool of completion-backed agents, gates the results through a
// verification swarm, and loops until the artifact set satisfies the
// contract's goal or an operator decision is required.
//
// Usage:
//
//	# Start the daemon with defaults
//	forged serve
//
//	# Configure via file and environment
//	forged serve --config /etc/forged/config.yaml
//	SERVER_PORT=9000 PROVIDERS_ANTHROPIC_API_KEY=sk-... forged serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "forged",
	Short: "Autonomous build orchestration daemon",
	Long: `forged accepts locked intent contracts, builds them with a pool of
model-backed agents, and verifies every result against the contract
before declaring completion.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("forged by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
