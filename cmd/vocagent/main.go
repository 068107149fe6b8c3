package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vocagent/vocagent/api/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "vocagent",
		Short: "Vocagent - Luo Tianyi character chat server",
		Long: `Vocagent is a per-user conversational agent server playing the
virtual singer Luo Tianyi, with long-term memory, song performance and
image understanding.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		inviteCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
