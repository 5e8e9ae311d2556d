package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// buildInspectSessionCmd prints a session's persisted snapshot as JSON.
func buildInspectSessionCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "inspect-session",
		Short: "Print a session's persisted snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			store, err := loadStoreOnly(cfg)
			if err != nil {
				return err
			}

			s, err := store.LoadSession(cmd.Context(), session)
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("session %s not found", session)
			}

			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.MarkFlagRequired("session")
	return cmd
}
