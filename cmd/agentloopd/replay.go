package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// buildReplayCmd prints a session's journal, one event per line, in
// append order — the same JSONL the store holds, decoded and re-encoded
// so unparseable lines are skipped exactly as a recovery pass would
// skip them.
func buildReplayCmd() *cobra.Command {
	var session string
	var typesOnly bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print a session's journaled events in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			store, err := loadStoreOnly(cfg)
			if err != nil {
				return err
			}

			events, err := store.LoadEvents(cmd.Context(), session)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no events for session %s", session)
			}

			out := cmd.OutOrStdout()
			for _, event := range events {
				if typesOnly {
					fmt.Fprintln(out, event.Type)
					continue
				}
				line, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintln(out, string(line))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().BoolVar(&typesOnly, "types", false, "print only event types")
	cmd.MarkFlagRequired("session")
	return cmd
}
