package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command under tracking, reporting a failure event if it exits non-zero",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := newTracker()
		if err != nil {
			return err
		}
		defer tracker.Destroy()

		start := time.Now()
		child := exec.Command(args[0], args[1:]...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr

		runErr := child.Run()
		duration := time.Since(start)

		if runErr != nil {
			var exitErr *exec.ExitError
			code := -1
			if errors.As(runErr, &exitErr) {
				code = exitErr.ExitCode()
			}
			tracker.CaptureError(fmt.Errorf("%s exited with code %d", args[0], code), map[string]any{
				"command":    strings.Join(args, " "),
				"exitCode":   code,
				"durationMs": duration.Milliseconds(),
			})
		} else {
			tracker.TrackEvent("command_succeeded", map[string]any{
				"command":    strings.Join(args, " "),
				"durationMs": duration.Milliseconds(),
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracker.Flush(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: events not delivered: %v\n", err)
		}

		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				// Propagate the child's exit code without cobra's error noise.
				tracker.Destroy()
				os.Exit(exitErr.ExitCode())
			}
			return runErr
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
