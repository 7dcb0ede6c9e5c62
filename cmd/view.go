package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fmarek/bugrelay/internal/digest"
)

var viewCmd = &cobra.Command{
	Use:   "view <digest-file>",
	Short: "Inspect a previously saved session digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading digest: %w", err)
		}

		var parser digest.Parser
		if strings.HasSuffix(args[0], ".json") {
			parser = &digest.JSONParser{}
		} else {
			parser = &digest.MarkdownParser{}
		}
		d, err := parser.Parse(data)
		if err != nil {
			return err
		}

		cmd.Printf("Session: %d\n", d.Session.Address)
		cmd.Printf("Captured: %s\n", d.Session.CapturedAt.Format("2006-01-02 15:04:05"))
		cmd.Printf("Events: %d\n", len(d.Events))
		for t, n := range d.Counts() {
			cmd.Printf("  %s: %d\n", t, n)
		}
		if d.Git != nil {
			cmd.Printf("Branch: %s (%s)\n", d.Git.Branch, d.Git.HeadCommit)
		}
		if len(d.FailedCommands) > 0 {
			cmd.Printf("Failed commands: %d\n", len(d.FailedCommands))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
