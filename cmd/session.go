package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/internal/session"
	"github.com/fmarek/bugrelay/internal/storage"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the persisted tracking session",
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current session; the next command starts a fresh one",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.StateDir
		if dir == "" {
			dir = storage.DefaultDir()
		}
		store := storage.Open(dir, zap.NewNop())

		if _, _, ok := session.Peek(store); !ok {
			cmd.Println("no active session")
			return nil
		}

		// Clearing through a manager keeps end semantics in one place.
		mgr := session.NewManager(store, 0, 0, nil, zap.NewNop())
		mgr.Initialize()
		mgr.EndSession()
		mgr.Close()

		fmt.Println("Session ended.")
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionEndCmd)
	rootCmd.AddCommand(sessionCmd)
}
