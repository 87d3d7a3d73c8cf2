package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skiffbot/skiff/pkg/config"
	"github.com/skiffbot/skiff/pkg/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversation sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := session.NewStore(config.SessionsDir())
			infos, err := store.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No sessions found")
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%-40s updated %s\n", info.Key, info.UpdatedAt)
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-key>",
		Short: "Delete a session by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := session.NewStore(config.SessionsDir())
			deleted, err := store.Delete(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Printf("Session not found: %s\n", args[0])
				return nil
			}
			fmt.Printf("Deleted session: %s\n", args[0])
			return nil
		},
	}
}
