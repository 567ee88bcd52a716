package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// maxErrorDetail caps how many per-line parse errors are retained.
const maxErrorDetail = 10

// Reader streams session logs into filtered entry sequences.
type Reader struct{}

// NewReader creates a new transcript reader.
func NewReader() *Reader {
	return &Reader{}
}

// rawLine is the wire shape of one JSONL record.
type rawLine struct {
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp,omitempty"`
	IsSidechain bool            `json:"isSidechain,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// rawMessage is the nested message payload. Content is either a plain
// string or an array of content blocks, so it stays raw here.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// rawBlock is one structured content block.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Read streams one session log in a single forward pass. Sidechain entries
// and non-message kinds are skipped; a line that fails to parse is counted
// and skipped rather than aborting the session. Logs can reach tens of
// megabytes, so the whole file is never held in memory.
func (r *Reader) Read(path string) (*ReadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	defer file.Close()

	result := &ReadResult{
		Entries:   make([]Entry, 0),
		ToolNames: make(map[string]string),
		Errors:    make([]ParseError, 0),
	}

	scanner := bufio.NewScanner(file)

	// Individual lines can carry large tool results.
	const maxScanTokenSize = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var rl rawLine
		if err := json.Unmarshal([]byte(line), &rl); err != nil {
			result.recordError(lineNum, fmt.Sprintf("JSON parse error: %v", err))
			continue
		}

		if rl.IsSidechain {
			continue
		}
		if rl.Type != KindUser && rl.Type != KindAssistant {
			// Summaries, system markers, snapshots and queue operations
			// carry no conversational signal.
			continue
		}

		entry, err := r.parseEntry(rl, result.ToolNames)
		if err != nil {
			result.recordError(lineNum, fmt.Sprintf("message parse error: %v", err))
			continue
		}
		if entry == nil {
			continue
		}

		result.Entries = append(result.Entries, *entry)
		result.MessageCount++
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning session log: %w", err)
	}

	return result, nil
}

// parseEntry converts a raw line to an Entry, registering tool invocations
// in the id-to-name map as a side effect.
func (r *Reader) parseEntry(rl rawLine, toolNames map[string]string) (*Entry, error) {
	var rm rawMessage
	if err := json.Unmarshal(rl.Message, &rm); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}

	msg := &Message{Role: Role(rm.Role)}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		// Trust the outer kind when the inner role is absent.
		msg.Role = Role(rl.Type)
	}

	// Plain-string content is used verbatim.
	var plain string
	if err := json.Unmarshal(rm.Content, &plain); err == nil {
		msg.Text = plain
	} else {
		var raws []rawBlock
		if err := json.Unmarshal(rm.Content, &raws); err != nil {
			return nil, fmt.Errorf("unmarshaling content blocks: %w", err)
		}
		msg.Blocks = make([]ContentBlock, 0, len(raws))
		for _, rb := range raws {
			block, ok := parseBlock(rb)
			if !ok {
				continue
			}
			if block.Type == BlockToolUse && block.ID != "" {
				toolNames[block.ID] = block.Name
			}
			msg.Blocks = append(msg.Blocks, block)
		}
	}

	if msg.Text == "" && len(msg.Blocks) == 0 {
		return nil, nil
	}

	return &Entry{
		Kind:      rl.Type,
		Timestamp: parseTimestamp(rl.Timestamp),
		Message:   msg,
	}, nil
}

// parseBlock converts a raw content block. Unknown block types are dropped.
func parseBlock(rb rawBlock) (ContentBlock, bool) {
	switch rb.Type {
	case BlockText:
		return ContentBlock{Type: BlockText, Text: rb.Text}, true
	case BlockThinking:
		return ContentBlock{Type: BlockThinking, Text: rb.Thinking}, true
	case BlockToolUse:
		return ContentBlock{
			Type:  BlockToolUse,
			ID:    rb.ID,
			Name:  rb.Name,
			Input: rb.Input,
		}, true
	case BlockToolResult:
		return ContentBlock{
			Type:      BlockToolResult,
			ToolUseID: rb.ToolUseID,
			Result:    resultText(rb.Content),
			IsError:   rb.IsError,
		}, true
	default:
		return ContentBlock{}, false
	}
}

// resultText flattens tool result content, which is either a plain string
// or an array of text blocks.
func resultText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return plain
	}

	var blocks []rawBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z", s); err == nil {
		return t
	}
	return time.Time{}
}

func (rr *ReadResult) recordError(line int, msg string) {
	rr.ErrorCount++
	if len(rr.Errors) < maxErrorDetail {
		rr.Errors = append(rr.Errors, ParseError{Line: line, Error: msg})
	}
}
