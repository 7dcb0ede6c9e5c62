package digest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Parser deserializes a rendered digest back into structured data.
type Parser interface {
	Parse(data []byte) (*Digest, error)
}

// JSONParser parses a JSON-encoded Digest.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Digest, error) {
	var d Digest
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse JSON digest: %w", err)
	}
	return &d, nil
}

// MarkdownParser parses a Markdown-rendered Digest by extracting the embedded
// base64 JSON payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Digest, error) {
	content := string(data)

	// Require the version sentinel.
	if !strings.Contains(content, "<!-- bugrelay-digest-version: 1 -->") {
		return nil, fmt.Errorf("not a valid bugrelay digest: missing version sentinel")
	}

	// Extract the base64 payload from <!-- bugrelay-data: <base64> -->.
	const prefix = "<!-- bugrelay-data: "
	const suffix = " -->"
	start := strings.Index(content, prefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid bugrelay digest: missing data payload")
	}
	start += len(prefix)
	end := strings.Index(content[start:], suffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid bugrelay digest: malformed data payload")
	}
	encoded := content[start : start+end]

	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("not a valid bugrelay digest: corrupted base64 payload: %w", err)
	}

	var d Digest
	if err := json.Unmarshal(jsonBytes, &d); err != nil {
		return nil, fmt.Errorf("not a valid bugrelay digest: failed to parse embedded JSON: %w", err)
	}

	return &d, nil
}
