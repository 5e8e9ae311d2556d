// Command agentloopd is a minimal host for the agent loop runtime: an
// interactive turn loop over stdin/stdout plus maintenance subcommands.
// It is deliberately thin — a full HTTP/SSE transport belongs to
// whatever service embeds the runtime.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "agentloopd",
		Short:   "Agent loop runtime — round scheduler, stream reassembler, tool dispatcher",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "agentloopd.yaml", "path to the YAML config file")

	root.AddCommand(
		buildServeCmd(),
		buildReplayCmd(),
		buildSubmitResponseCmd(),
		buildInspectSessionCmd(),
	)
	return root
}
