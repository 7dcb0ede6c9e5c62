// Package diagnose gathers local environment context attached to bug
// reports: repository state and recent failing commands.
package diagnose

import (
	"errors"
	"os/exec"
	"strings"
	"time"
)

// GitRunner executes a git command and returns its output.
// This abstraction allows mocking in tests.
type GitRunner func(workDir string, args ...string) (string, error)

// GitState holds repository state captured at report time.
type GitState struct {
	Branch     string   `json:"branch"`
	HeadCommit string   `json:"head_commit"`
	Dirty      bool     `json:"dirty"`
	RecentLog  []string `json:"recent_log"` // commits since the session started
}

// GitCollector collects git repository state.
type GitCollector struct {
	WorkDir string
	Runner  GitRunner // if nil, uses the real git subprocess
}

// defaultGitRunner runs git as a real subprocess.
func defaultGitRunner(workDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workDir
	out, err := cmd.Output()
	return string(out), err
}

// Collect captures the current repository state. If the working directory is
// not a git repository (exit code 128), it returns (nil, nil) so callers can
// submit reports without git context.
func (g *GitCollector) Collect(since time.Time) (*GitState, error) {
	runner := g.Runner
	if runner == nil {
		runner = defaultGitRunner
	}

	// Branch lookup doubles as the "is this a git repo?" check.
	branch, err := runner(g.WorkDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		if isExitCode128(err) {
			return nil, nil
		}
		return nil, err
	}

	headCommit, err := runner(g.WorkDir, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}

	status, err := runner(g.WorkDir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	logOut, err := runner(g.WorkDir, "log", "--oneline", "--since="+since.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}

	return &GitState{
		Branch:     strings.TrimSpace(branch),
		HeadCommit: strings.TrimSpace(headCommit),
		Dirty:      strings.TrimSpace(status) != "",
		RecentLog:  parseLogLines(logOut),
	}, nil
}

// isExitCode128 reports whether err is an *exec.ExitError with exit code 128.
func isExitCode128(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 128
	}
	return false
}

// parseLogLines splits git log output into individual commit lines,
// discarding empty lines.
func parseLogLines(output string) []string {
	lines := strings.Split(output, "\n")
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return result
}
