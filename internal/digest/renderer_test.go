package digest

import (
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fmarek/bugrelay/event"
	"github.com/fmarek/bugrelay/internal/diagnose"
)

func sampleDigest() *Digest {
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	ev := event.Event{
		Type:      event.TypeError,
		Name:      "Panic",
		Timestamp: now,
		EventID:   "11111111-1111-1111-1111-111111111111",
		Message:   "index out of range",
	}
	return &Digest{
		Session: SessionMeta{
			Address:      -1754043000123456,
			StartedAt:    now.Add(-time.Hour),
			CapturedAt:   now,
			ServerBacked: false,
		},
		Events: []event.Event{ev},
		Git: &diagnose.GitState{
			Branch:     "main",
			HeadCommit: "abc123",
			RecentLog:  []string{"abc123 fix things"},
		},
	}
}

func TestMarkdownRoundTrip(t *testing.T) {
	d := sampleDigest()

	data, err := (&MarkdownRenderer{}).Render(d)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	parsed, err := (&MarkdownParser{}).Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.Session.Address != d.Session.Address {
		t.Errorf("Address: want %d, got %d", d.Session.Address, parsed.Session.Address)
	}
	if len(parsed.Events) != 1 || parsed.Events[0].Message != "index out of range" {
		t.Errorf("Events: got %+v", parsed.Events)
	}
	if parsed.Git == nil || parsed.Git.Branch != "main" {
		t.Errorf("Git: got %+v", parsed.Git)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	d := sampleDigest()

	data, err := (&JSONRenderer{}).Render(d)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	parsed, err := (&JSONParser{}).Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Session.Address != d.Session.Address {
		t.Errorf("Address: want %d, got %d", d.Session.Address, parsed.Session.Address)
	}
}

// Event names and messages chosen adversarially must survive the markdown
// round trip byte-for-byte, because the parser reads the embedded payload,
// not the rendered prose.
func TestMarkdownRoundTripArbitraryText(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 10).Draw(rt, "n")
		d := &Digest{
			Session: SessionMeta{
				Address:    rapid.Int64().Draw(rt, "addr"),
				CapturedAt: time.Now().UTC().Truncate(time.Second),
			},
		}
		for i := 0; i < n; i++ {
			d.Events = append(d.Events, event.Event{
				Type:    event.TypeCustom,
				Name:    rapid.String().Draw(rt, "name"),
				Message: rapid.String().Draw(rt, "message"),
				EventID: rapid.StringMatching(`[a-f0-9-]{8,36}`).Draw(rt, "id"),
			})
		}

		data, err := (&MarkdownRenderer{}).Render(d)
		if err != nil {
			rt.Fatalf("Render: %v", err)
		}
		parsed, err := (&MarkdownParser{}).Parse(data)
		if err != nil {
			rt.Fatalf("Parse: %v", err)
		}
		if len(parsed.Events) != len(d.Events) {
			rt.Fatalf("event count: want %d, got %d", len(d.Events), len(parsed.Events))
		}
		for i := range d.Events {
			if parsed.Events[i].Name != d.Events[i].Name {
				rt.Errorf("event %d name: want %q, got %q", i, d.Events[i].Name, parsed.Events[i].Name)
			}
			if parsed.Events[i].Message != d.Events[i].Message {
				rt.Errorf("event %d message: want %q, got %q", i, d.Events[i].Message, parsed.Events[i].Message)
			}
		}
	})
}

func TestMarkdownParserRejectsPlainMarkdown(t *testing.T) {
	_, err := (&MarkdownParser{}).Parse([]byte("# Just a readme\n\nNothing embedded here.\n"))
	if err == nil {
		t.Fatal("expected error for markdown without sentinel")
	}
	if !strings.Contains(err.Error(), "missing version sentinel") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMarkdownRenderMentionsCounts(t *testing.T) {
	d := sampleDigest()
	data, err := (&MarkdownRenderer{}).Render(d)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "ERROR: 1") {
		t.Errorf("expected per-type count in output:\n%s", out)
	}
	if !strings.Contains(out, "local-only") {
		t.Errorf("expected identity line in output:\n%s", out)
	}
}
