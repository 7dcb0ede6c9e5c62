package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxPayload is the single-request ceiling for beacon delivery.
const DefaultMaxPayload = 64000

// beaconTimeout bounds the last-chance send. The process is going away; a
// send that cannot be written quickly is not worth blocking shutdown for.
const beaconTimeout = 3 * time.Second

// truncateKeep is how many newest events survive the truncation rung.
const truncateKeep = 10

// compressQuality is the JPEG quality used by the compression rung.
const compressQuality = 50

// Beacon is the fire-and-forget delivery path used when the process is
// shutting down. Sends are considered enqueued once the request is written
// without transport error; the response is never read.
type Beacon struct {
	client     *Client
	maxPayload int
	log        *zap.Logger
}

// NewBeacon wraps a client with beacon semantics. maxPayload <= 0 uses
// DefaultMaxPayload.
func NewBeacon(client *Client, maxPayload int, log *zap.Logger) *Beacon {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Beacon{client: client, maxPayload: maxPayload, log: log}
}

// Send delivers the payload within the beacon budget, shrinking it to fit
// the payload ceiling first. It never returns an error to the caller's
// shutdown path; failures are logged and dropped.
func (b *Beacon) Send(payload BeaconPayload) {
	body, err := b.fit(payload)
	if err != nil {
		b.log.Debug("beacon payload unfit", zap.Error(err))
		return
	}
	b.post("/api/events", body)
}

// Heartbeat is a fire-and-forget keepalive for the session.
func (b *Beacon) Heartbeat(sessionID int64) {
	if sessionID == 0 {
		return
	}
	body, err := json.Marshal(map[string]any{
		"sessionId": sessionID,
		"sentAt":    time.Now(),
	})
	if err != nil {
		return
	}
	b.post("/api/sessions/heartbeat", body)
}

func (b *Beacon) post(path string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.client.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.httpc.Do(req)
	if err != nil {
		b.log.Debug("beacon send failed", zap.Error(err))
		return
	}
	// Fire-and-forget: the reply carries nothing actionable.
	resp.Body.Close()
}

// fit shrinks the payload until its encoding is within the ceiling, trying
// the cheapest-loss rung first: recompress the screenshot, then truncate the
// event set to the newest few (marking the cut), then drop the screenshot.
func (b *Beacon) fit(payload BeaconPayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(body) <= b.maxPayload {
		return body, nil
	}

	if payload.Screenshot != "" {
		if compressed, ok := recompressScreenshot(payload.Screenshot); ok {
			payload.Screenshot = compressed
			if body, err = json.Marshal(payload); err != nil {
				return nil, err
			}
			if len(body) <= b.maxPayload {
				return body, nil
			}
		}
	}

	if len(payload.Events) > truncateKeep {
		payload.Truncated = true
		payload.OriginalEventCount = len(payload.Events)
		payload.Events = payload.Events[len(payload.Events)-truncateKeep:]
		payload.TruncatedEventCount = len(payload.Events)
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
		if len(body) <= b.maxPayload {
			return body, nil
		}
	}

	if payload.Screenshot != "" {
		payload.Screenshot = ""
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
		if len(body) <= b.maxPayload {
			return body, nil
		}
	}
	return nil, fmt.Errorf("payload is %d bytes after degradation, limit %d", len(body), b.maxPayload)
}

// recompressScreenshot re-encodes a data-URL image as a lower-quality JPEG.
// Unknown or broken encodings report !ok and leave the ladder to its next
// rung.
func recompressScreenshot(dataURL string) (string, bool) {
	raw, mime, ok := decodeDataURL(dataURL)
	if !ok {
		return "", false
	}
	var (
		img image.Image
		err error
	)
	switch mime {
	case "image/png":
		img, err = png.Decode(bytes.NewReader(raw))
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(raw))
	default:
		return "", false
	}
	if err != nil {
		return "", false
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: compressQuality}); err != nil {
		return "", false
	}
	if buf.Len() >= len(raw) {
		return "", false
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), true
}

// decodeDataURL splits a data URL into raw bytes and mime type.
func decodeDataURL(u string) ([]byte, string, bool) {
	if !strings.HasPrefix(u, "data:") {
		return nil, "", false
	}
	rest := u[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", false
	}
	meta, data := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", false
	}
	mime := strings.TrimSuffix(meta, ";base64")
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", false
	}
	return raw, mime, true
}
