// Package transport implements the delivery layer: the primary JSON client,
// the fire-and-forget beacon path with payload-size governance, and the
// multipart bug-report submission.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/event"
	"github.com/fmarek/bugrelay/internal/hostinfo"
)

// ErrSessionUnresolved signals that no session address exists yet. Callers
// treat it as "stay local-only", not as a retryable transport fault.
var ErrSessionUnresolved = errors.New("session address unresolved")

// HTTPError is a non-2xx reply from the server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the collection API.
type Client struct {
	baseURL   string
	projectID int64
	httpc     *http.Client
	log       *zap.Logger
}

// NewClient creates a client for the API at baseURL. A nil httpc gets a
// dedicated client with a conservative timeout; the shared default client is
// never used, so transport interception of host traffic cannot loop back
// through the reporter.
func NewClient(baseURL string, projectID int64, httpc *http.Client, log *zap.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		projectID: projectID,
		httpc:     httpc,
		log:       log,
	}
}

// BaseURL returns the API base the client reports to.
func (c *Client) BaseURL() string { return c.baseURL }

// SendEvents transmits each event as one discrete request. The first HTTP
// error fails the whole call; events already accepted stay accepted, callers
// restore the rest. A zero session address fails immediately with
// ErrSessionUnresolved.
func (c *Client) SendEvents(ctx context.Context, sessionID int64, events []event.Event) error {
	if sessionID == 0 {
		return ErrSessionUnresolved
	}
	for _, ev := range events {
		if err := c.postJSON(ctx, "/api/events", EncodeEvent(sessionID, ev), nil); err != nil {
			return fmt.Errorf("sending event %s: %w", ev.EventID, err)
		}
	}
	return nil
}

// RegisterSession creates the server-side session and returns its id.
func (c *Client) RegisterSession(ctx context.Context, hctx hostinfo.Context, startedAt time.Time) (int64, error) {
	var resp SessionCreationResponse
	req := SessionRequest{ProjectID: c.projectID, StartedAt: startedAt, Context: hctx}
	if err := c.postJSON(ctx, "/api/sessions", req, &resp); err != nil {
		return 0, fmt.Errorf("registering session: %w", err)
	}
	if resp.SessionID <= 0 {
		return 0, fmt.Errorf("registering session: server returned id %d", resp.SessionID)
	}
	return resp.SessionID, nil
}

// SendBugReport submits a user report as multipart form data: a "request"
// JSON part and an optional "screenshot" file part. Not retried on failure;
// the caller surfaces the error for manual resubmission.
func (c *Client) SendBugReport(ctx context.Context, report ReportRequest, screenshot []byte) error {
	if report.SessionID == 0 {
		return ErrSessionUnresolved
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	meta, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	part, err := w.CreateFormField("request")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if _, err := part.Write(meta); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if len(screenshot) > 0 {
		file, err := w.CreateFormFile("screenshot", "screenshot.jpg")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		if _, err := file.Write(screenshot); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reports", &body)
	if err != nil {
		return fmt.Errorf("sending report: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readHTTPError(resp)
	}
	return nil
}

// postJSON sends a JSON body and optionally decodes a JSON reply into out.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readHTTPError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func readHTTPError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
