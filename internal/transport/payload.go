package transport

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/fmarek/bugrelay/event"
	"github.com/fmarek/bugrelay/internal/hostinfo"
)

// EventRequest is the wire form of one event. One request per event.
type EventRequest struct {
	SessionID  int64          `json:"sessionId"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Log        string         `json:"log"`
	StackTrace string         `json:"stackTrace,omitempty"`
	URL        string         `json:"url,omitempty"`
	Element    string         `json:"element,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionRequest is the registration body for POST /api/sessions.
type SessionRequest struct {
	ProjectID int64            `json:"projectId"`
	StartedAt time.Time        `json:"startedAt"`
	Context   hostinfo.Context `json:"context"`
}

// SessionCreationResponse is the registration reply.
type SessionCreationResponse struct {
	Message   string `json:"message,omitempty"`
	SessionID int64  `json:"sessionId"`
}

// ReportRequest is the JSON metadata part of a bug report submission.
type ReportRequest struct {
	ProjectID    int64     `json:"projectId"`
	SessionID    int64     `json:"sessionId"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags,omitempty"`
	ReportedAt   time.Time `json:"reportedAt"`
	Comments     string    `json:"comments"`
	UserEmail    string    `json:"userEmail,omitempty"`
	CurrentURL   string    `json:"currentUrl,omitempty"`
	UserProvided bool      `json:"userProvided"`
}

// titleLimit bounds the derived report title.
const titleLimit = 80

// DeriveTitle produces the report title from the user's comment: the first
// line, cut to the limit on a rune boundary.
func DeriveTitle(comment string) string {
	for i, r := range comment {
		if r == '\n' {
			comment = comment[:i]
			break
		}
	}
	if utf8.RuneCountInString(comment) <= titleLimit {
		return comment
	}
	runes := []rune(comment)
	return string(runes[:titleLimit])
}

// BeaconPayload is the batched last-chance delivery body. Unlike the primary
// path it carries many events in one request, because the process may not
// survive long enough for more.
type BeaconPayload struct {
	SessionID  int64          `json:"sessionId"`
	SentAt     time.Time      `json:"sentAt"`
	Events     []EventRequest `json:"events"`
	Screenshot string         `json:"screenshot,omitempty"` // base64 data URL

	// Truncation marks, set when the event set was cut to fit the payload
	// ceiling.
	Truncated           bool `json:"truncated,omitempty"`
	OriginalEventCount  int  `json:"originalEventCount,omitempty"`
	TruncatedEventCount int  `json:"truncatedEventCount,omitempty"`
}

// EncodeEvent maps an event to its wire form. The mapping is deterministic by
// type: the log field carries the primary human-readable line, the
// correlation id always rides in metadata under eventId, and caller-supplied
// custom fields pass through verbatim.
func EncodeEvent(sessionID int64, ev event.Event) EventRequest {
	req := EventRequest{
		SessionID:  sessionID,
		Type:       string(ev.Type),
		Name:       ev.Name,
		Log:        primaryLogLine(ev),
		StackTrace: ev.StackTrace,
		URL:        ev.URL,
		Element:    ev.Path,
		Timestamp:  ev.Timestamp,
		Metadata:   map[string]any{"eventId": ev.EventID},
	}
	for k, v := range ev.CustomMetadata {
		req.Metadata[k] = v
	}
	switch ev.Type {
	case event.TypeError:
		if ev.File != "" {
			req.Metadata["file"] = ev.File
			req.Metadata["line"] = ev.Line
		}
	case event.TypeAction:
		if ev.TagName != "" {
			req.Metadata["tagName"] = ev.TagName
		}
		for k, v := range ev.Attributes {
			req.Metadata[k] = v
		}
	case event.TypeNetwork:
		req.Metadata["method"] = ev.Method
		req.Metadata["networkUrl"] = ev.NetworkURL
		req.Metadata["statusCode"] = ev.StatusCode
		req.Metadata["durationMs"] = ev.Duration.Milliseconds()
	}
	return req
}

// primaryLogLine picks the human-facing line for an event. Errors surface
// their message; actions surface the most salient captured attribute; other
// types fall back to the correlation id.
func primaryLogLine(ev event.Event) string {
	switch ev.Type {
	case event.TypeError:
		if ev.Message != "" {
			return ev.Message
		}
	case event.TypeAction:
		if method, ok := ev.Attributes["method"]; ok {
			if action, ok := ev.Attributes["action"]; ok {
				return fmt.Sprintf("%s %s", method, action)
			}
		}
		if href, ok := ev.Attributes["href"]; ok {
			return href
		}
		if text, ok := ev.Attributes["text"]; ok && text != "" {
			return text
		}
	case event.TypeNetwork:
		if ev.NetworkURL != "" {
			return fmt.Sprintf("%s %s %d", ev.Method, ev.NetworkURL, ev.StatusCode)
		}
	}
	return ev.EventID
}
