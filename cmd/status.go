package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/internal/digest"
	"github.com/fmarek/bugrelay/internal/session"
	"github.com/fmarek/bugrelay/internal/storage"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current tracking session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.StateDir
		if dir == "" {
			dir = storage.DefaultDir()
		}
		store := storage.Open(dir, zap.NewNop())

		rec, serverID, ok := session.Peek(store)
		if !ok {
			cmd.Println("no active session")
			return nil
		}

		if statusFormat != "" {
			d := &digest.Digest{
				Session: digest.SessionMeta{
					Address:        address(rec, serverID),
					ServerBacked:   serverID > 0,
					StartedAt:      rec.StartedAt,
					LastActivityAt: rec.LastActivityAt,
					CapturedAt:     time.Now(),
				},
				Context: rec.Context,
			}
			var r digest.Renderer
			switch statusFormat {
			case "json":
				r = &digest.JSONRenderer{}
			case "markdown":
				r = &digest.MarkdownRenderer{}
			default:
				return fmt.Errorf("unknown format %q (supported: json, markdown)", statusFormat)
			}
			data, err := r.Render(d)
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		}

		identity := "local-only"
		if serverID > 0 {
			identity = fmt.Sprintf("server-backed (#%d)", serverID)
		}
		cmd.Printf("Session: %d\n", address(rec, serverID))
		cmd.Printf("Identity: %s\n", identity)
		cmd.Printf("Started: %s\n", rec.StartedAt.Format(time.RFC3339))
		cmd.Printf("Last activity: %s\n", rec.LastActivityAt.Format(time.RFC3339))
		cmd.Printf("Duration: %s\n", time.Since(rec.StartedAt).Round(time.Second).String())
		return nil
	},
}

func address(rec *session.Record, serverID int64) int64 {
	if serverID > 0 {
		return serverID
	}
	return rec.LocalID
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "", "Render as a digest: json or markdown")
	rootCmd.AddCommand(statusCmd)
}
