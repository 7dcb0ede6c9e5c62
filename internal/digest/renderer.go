package digest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fmarek/bugrelay/event"
)

// Renderer serializes a Digest to bytes.
type Renderer interface {
	Render(d *Digest) ([]byte, error)
}

// JSONRenderer renders a Digest as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(d *Digest) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// MarkdownRenderer renders a Digest as human-readable Markdown with an
// embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(d *Digest) ([]byte, error) {
	jsonBytes, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder

	// Sentinel and embedded payload.
	sb.WriteString("<!-- bugrelay-digest-version: 1 -->\n")
	fmt.Fprintf(&sb, "<!-- bugrelay-data: %s -->\n\n", encoded)

	// Title.
	fmt.Fprintf(&sb, "# Session %d — %s\n\n",
		d.Session.Address,
		d.Session.CapturedAt.Format("2006-01-02 15:04:05 MST"),
	)

	// ## Summary
	sb.WriteString("## Summary\n\n")
	backing := "local-only"
	if d.Session.ServerBacked {
		backing = "server-backed"
	}
	fmt.Fprintf(&sb, "- Identity: %s\n", backing)
	fmt.Fprintf(&sb, "- Started: %s\n", d.Session.StartedAt.Format(time.RFC3339))
	if !d.Session.LastActivityAt.IsZero() {
		fmt.Fprintf(&sb, "- Last activity: %s\n", d.Session.LastActivityAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "- Host: %s %s/%s\n", d.Context.Runtime, d.Context.OS, d.Context.Arch)
	if d.Git != nil {
		fmt.Fprintf(&sb, "- Branch: %s\n", d.Git.Branch)
		fmt.Fprintf(&sb, "- Head commit: %s\n", d.Git.HeadCommit)
	}
	sb.WriteString("\n")

	// ## Events
	fmt.Fprintf(&sb, "## Events (%d)\n\n", len(d.Events))
	if len(d.Events) == 0 {
		sb.WriteString("_No pending events._\n")
	} else {
		counts := d.Counts()
		for _, t := range []event.Type{event.TypeError, event.TypeAction, event.TypeNetwork, event.TypePerformance, event.TypeCustom} {
			if counts[t] > 0 {
				fmt.Fprintf(&sb, "- %s: %d\n", t, counts[t])
			}
		}
		sb.WriteString("\n")
		sb.WriteString("| Time | Type | Name | Detail |\n")
		sb.WriteString("|------|------|------|--------|\n")
		for _, ev := range d.Events {
			detail := ev.Message
			if detail == "" && ev.NetworkURL != "" {
				detail = fmt.Sprintf("%s %s %d", ev.Method, ev.NetworkURL, ev.StatusCode)
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				ev.Timestamp.Format("15:04:05"),
				ev.Type,
				ev.Name,
				escapeCell(detail),
			)
		}
	}
	sb.WriteString("\n")

	// ## Recent Git Commits
	if d.Git != nil && len(d.Git.RecentLog) > 0 {
		sb.WriteString("## Recent Commits\n\n")
		for _, line := range d.Git.RecentLog {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
		sb.WriteString("\n")
	}

	// ## Failed Commands
	if len(d.FailedCommands) > 0 {
		sb.WriteString("## Failed Commands\n\n")
		for i, c := range d.FailedCommands {
			fmt.Fprintf(&sb, "%d. `%s` (exit %d)\n", i+1, c.Raw, c.ExitCode)
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

// escapeCell keeps table cells on one line.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
