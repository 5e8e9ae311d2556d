package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopstack/agentloop/internal/providers/memprovider"
	"github.com/loopstack/agentloop/internal/runtime"
	"github.com/loopstack/agentloop/internal/scheduler"
)

// buildSubmitResponseCmd resolves a session's pending ask_user
// question. It does not need a live model provider, so it wires a
// memprovider placeholder that the turn loop never calls.
func buildSubmitResponseCmd() *cobra.Command {
	var session, response string

	cmd := &cobra.Command{
		Use:   "submit-response",
		Short: "Resolve a session's pending ask_user question",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			store, err := loadStoreOnly(cfg)
			if err != nil {
				return err
			}

			rt := runtime.New(store, memprovider.New(), runtime.Config{Scheduler: scheduler.Config{}}, cfg.Logging.NewLogger())
			if err := rt.SubmitResponse(cmd.Context(), session, response); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved session %s\n", session)
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&response, "response", "", "the user's chosen response")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("response")
	return cmd
}
