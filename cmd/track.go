package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var trackMeta []string

var trackCmd = &cobra.Command{
	Use:   "track <name>",
	Short: "Send a custom event to the current session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := newTracker()
		if err != nil {
			return err
		}
		defer tracker.Destroy()

		metadata := make(map[string]any, len(trackMeta))
		for _, kv := range trackMeta {
			k, v, found := strings.Cut(kv, "=")
			if !found || k == "" {
				return fmt.Errorf("invalid --meta %q, expected key=value", kv)
			}
			metadata[k] = v
		}

		tracker.TrackEvent(args[0], metadata)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracker.Flush(ctx); err != nil {
			return fmt.Errorf("delivering event: %w", err)
		}
		fmt.Println("Event sent.")
		return nil
	},
}

func init() {
	trackCmd.Flags().StringArrayVar(&trackMeta, "meta", nil, "Event metadata as key=value (repeatable)")
	rootCmd.AddCommand(trackCmd)
}
