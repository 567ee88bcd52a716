package analyze

import (
	"encoding/json"
	"strings"
)

// parseFindings extracts validated findings from a classifier response.
// The response is expected to be a JSON array, possibly wrapped in a
// fenced code block. Elements that fail validation are dropped; a response
// that is not a JSON array at all yields zero findings. Returns the
// findings and the count of dropped elements.
func parseFindings(response string) ([]Finding, int) {
	raw := StripFences(response)

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return []Finding{}, 0
	}

	findings := make([]Finding, 0, len(elements))
	dropped := 0
	for _, el := range elements {
		f, err := parseFinding(el)
		if err != nil {
			dropped++
			continue
		}
		findings = append(findings, f)
	}
	return findings, dropped
}

// parseFinding validates one array element against the finding shape.
func parseFinding(el json.RawMessage) (Finding, error) {
	var f Finding
	if err := json.Unmarshal(el, &f); err != nil {
		return Finding{}, err
	}
	if err := f.Validate(); err != nil {
		return Finding{}, err
	}
	return f, nil
}

// StripFences unwraps a ```json ... ``` fenced block if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
