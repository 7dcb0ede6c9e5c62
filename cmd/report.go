package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fmarek/bugrelay/internal/diagnose"
	"github.com/fmarek/bugrelay/internal/digest"
	"github.com/fmarek/bugrelay/internal/shell"
	"github.com/fmarek/bugrelay/internal/tui"
)

var (
	reportMessage    string
	reportEmail      string
	reportTags       []string
	reportScreenshot string
	reportOut        string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Submit a bug report with the current session's context attached",
	RunE: func(cmd *cobra.Command, args []string) error {
		prof := GetProfile()

		input := tui.ReportInput{Comment: reportMessage, Email: reportEmail, Tags: reportTags}
		if prof != nil {
			if input.Email == "" {
				input.Email = prof.Email
			}
			input.Tags = append(input.Tags, prof.DefaultTags...)
		}

		// No -m and a real terminal: collect through the form.
		if input.Comment == "" {
			if !term.IsTerminal(os.Stdin.Fd()) {
				return fmt.Errorf("a comment is required: pass -m or run interactively")
			}
			collected, ok, err := tui.Run(input)
			if err != nil {
				return fmt.Errorf("report form: %w", err)
			}
			if !ok {
				fmt.Println("Report cancelled.")
				return nil
			}
			input = collected
		}

		tracker, err := newTracker()
		if err != nil {
			return err
		}
		defer tracker.Destroy()

		// Local diagnostics ride along as report tags and digest sections.
		wd, _ := os.Getwd()
		gitState, err := (&diagnose.GitCollector{WorkDir: wd}).Collect(time.Now().Add(-24 * time.Hour))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: git context unavailable: %v\n", err)
		}
		if gitState != nil {
			input.Tags = append(input.Tags, "branch:"+gitState.Branch)
			if gitState.Dirty {
				input.Tags = append(input.Tags, "dirty-tree")
			}
		}
		failedCmds, err := shell.ReadFailureLog()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failure log unreadable: %v\n", err)
		}
		if len(failedCmds) > 0 {
			var sb strings.Builder
			sb.WriteString(input.Comment)
			sb.WriteString("\n\nRecent failing commands:\n")
			for _, c := range failedCmds {
				fmt.Fprintf(&sb, "  $ %s (exit %d)\n", c.Raw, c.ExitCode)
			}
			input.Comment = sb.String()
		}

		var screenshot []byte
		if reportScreenshot != "" {
			screenshot, err = os.ReadFile(reportScreenshot)
			if err != nil {
				return fmt.Errorf("reading screenshot: %w", err)
			}
		}

		if reportOut != "" {
			if err := writeDigest(tracker.SessionAddress(), gitState, failedCmds); err != nil {
				fmt.Fprintf(os.Stderr, "warning: digest not written: %v\n", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := tracker.SubmitReport(ctx, input.Comment, input.Email, input.Tags, screenshot); err != nil {
			return fmt.Errorf("submitting report: %w", err)
		}

		if err := shell.TruncateFailureLog(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failure log not cleared: %v\n", err)
		}
		fmt.Println("Report submitted. Thank you!")
		return nil
	},
}

// writeDigest saves a local markdown digest next to the submitted report.
func writeDigest(addr int64, gitState *diagnose.GitState, failedCmds []shell.FailedCommand) error {
	d := &digest.Digest{
		Session: digest.SessionMeta{
			Address:      addr,
			ServerBacked: addr > 0,
			CapturedAt:   time.Now(),
		},
		Git:            gitState,
		FailedCommands: failedCmds,
	}
	data, err := (&digest.MarkdownRenderer{}).Render(d)
	if err != nil {
		return err
	}
	path := reportOut
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "bugrelay-"+time.Now().Format("20060102-150405")+".md")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Digest written to %s\n", path)
	return nil
}

func init() {
	reportCmd.Flags().StringVarP(&reportMessage, "message", "m", "", "Report comment (skips the interactive form)")
	reportCmd.Flags().StringVar(&reportEmail, "email", "", "Contact email (defaults to profile)")
	reportCmd.Flags().StringSliceVar(&reportTags, "tag", nil, "Additional report tags")
	reportCmd.Flags().StringVar(&reportScreenshot, "screenshot", "", "Path to an image to attach")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Also save a local markdown digest to this path")
	rootCmd.AddCommand(reportCmd)
}
