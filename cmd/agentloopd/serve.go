package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loopstack/agentloop/internal/artifacts"
	agentloopconfig "github.com/loopstack/agentloop/internal/config"
	"github.com/loopstack/agentloop/internal/eventlog"
	"github.com/loopstack/agentloop/internal/providers/anthropic"
	"github.com/loopstack/agentloop/internal/providers/openai"
	"github.com/loopstack/agentloop/internal/runtime"
	"github.com/loopstack/agentloop/internal/scheduler"
	"github.com/loopstack/agentloop/internal/tools"
	"github.com/loopstack/agentloop/pkg/agentloop"
)

// buildServeCmd wires every collaborator into a runtime.Runtime and
// drives a REPL-style turn loop over stdin/stdout: each line of input
// is one user turn for a single session, and every AgentEvent the turn
// produces is printed to stdout as one SSE-framed JSON line.
func buildServeCmd() *cobra.Command {
	var sessionID string
	var systemPrompt string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an interactive turn loop over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}

			logger := cfg.Logging.NewLogger()
			rt, err := buildRuntime(cfg, logger)
			if err != nil {
				return err
			}

			if strings.TrimSpace(sessionID) == "" {
				sessionID = uuid.NewString()
			}

			sub := rt.Subscribe()
			defer sub.Unsubscribe()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session: %s\n", sessionID)

			go func() {
				for event := range sub.Events() {
					line, err := json.Marshal(event)
					if err != nil {
						continue
					}
					fmt.Fprintf(out, "data: %s\n\n", line)
				}
			}()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				text := scanner.Text()
				if strings.TrimSpace(text) == "" {
					continue
				}
				ctx := cmd.Context()
				opts := scheduler.RunOptions{SystemPrompt: systemPrompt}
				if err := rt.RunTurn(ctx, sessionID, text, opts); err != nil {
					logger.Error("turn failed", "session", sessionID, "error", err)
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume (default: a fresh UUID)")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt override for every turn")
	return cmd
}

func loadConfigOrDefault(path string) (*agentloopconfig.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return agentloopconfig.Default(), nil
	}
	return agentloopconfig.Load(path)
}

// buildRuntime constructs a runtime.Runtime from cfg: the event log
// store cfg.Server.StorageBackend selects (FileStore or SQLiteStore),
// the provider cfg.LLM.Provider selects, and the Scheduler/Dispatcher
// bounds in cfg.Loop. Callers embedding the runtime register their own
// tools via rt.RegisterTool.
func buildRuntime(cfg *agentloopconfig.Config, logger *slog.Logger) (*runtime.Runtime, error) {
	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("agentloopd: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	artifacts, err := newArtifactStore(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}

	rtCfg := runtime.Config{
		Scheduler: scheduler.Config{
			DefaultModel: defaultModel(cfg),
			MaxRounds:    cfg.Loop.MaxRounds,
		},
		Dispatcher: tools.DispatcherConfig{
			MaxConcurrency:     cfg.Loop.ToolConcurrency,
			Timeout:            cfg.Loop.ToolTimeout,
			InlineBudgetTokens: cfg.Loop.InlineBudgetTokens,
			Artifacts:          artifacts,
		},
		LockTimeout: cfg.Loop.LockTimeout,
		BufferSize:  cfg.Loop.BroadcastBuffer,
	}

	return runtime.New(store, provider, rtCfg, logger), nil
}

// newStore selects the event log store backend named by
// cfg.Server.StorageBackend: "sqlite" opens a single database file
// under DataDir, anything else (including the empty default) uses the
// FileStore's per-session snapshot-plus-journal layout.
func newStore(cfg *agentloopconfig.Config, logger *slog.Logger) (eventlog.Store, error) {
	if cfg.Server.StorageBackend == "sqlite" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("agentloopd: create data dir: %w", err)
		}
		return eventlog.NewSQLiteStore(filepath.Join(cfg.Server.DataDir, "agentloop.db"))
	}
	return eventlog.NewFileStore(cfg.Server.DataDir, logger)
}

func defaultModel(cfg *agentloopconfig.Config) string {
	switch cfg.LLM.Provider {
	case "openai":
		return cfg.LLM.OpenAI.DefaultModel
	default:
		return cfg.LLM.Anthropic.DefaultModel
	}
}

func buildProvider(cfg *agentloopconfig.Config) (agentloop.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		c := cfg.LLM.OpenAI
		return openai.New(openai.Config{
			APIKey: c.APIKey, BaseURL: c.BaseURL, DefaultModel: c.DefaultModel,
			MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay, MaxTokens: c.MaxTokens,
		})
	default:
		c := cfg.LLM.Anthropic
		return anthropic.New(anthropic.Config{
			APIKey: c.APIKey, BaseURL: c.BaseURL, DefaultModel: c.DefaultModel,
			MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay, MaxTokens: c.MaxTokens,
		})
	}
}

func loadStoreOnly(cfg *agentloopconfig.Config) (eventlog.Store, error) {
	return newStore(cfg, cfg.Logging.NewLogger())
}

func newArtifactStore(dataDir string) (*artifacts.Store, error) {
	return artifacts.NewStore(dataDir)
}
