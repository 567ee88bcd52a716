// Package condense turns a filtered transcript into one bounded string
// plus the set of skills the session invoked.
//
// Two regimes exist per session: a bounded mode with heavy truncation used
// by the first analysis stage, and a full mode with light truncation used
// by verification. Both share one code path; a Mode struct carries the only
// three parameters that differ.
package condense

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/retrospect/internal/transcript"
)

// Mode parameterizes condensation.
type Mode struct {
	// AssistantCharCap truncates assistant-authored text per message.
	// Zero means unbounded. User text is never truncated: the user's own
	// words are the highest-value signal.
	AssistantCharCap int
	// TotalCharThreshold is the assembled size above which windowing
	// applies.
	TotalCharThreshold int
	// WindowHalfSize is the number of user messages kept at each end
	// when windowing applies.
	WindowHalfSize int
}

// Bounded is the small-budget mode used by stage one.
func Bounded() Mode {
	return Mode{
		AssistantCharCap:   500,
		TotalCharThreshold: 40_000,
		WindowHalfSize:     10,
	}
}

// Full is the large-budget mode used by verification.
func Full() Mode {
	return Mode{
		AssistantCharCap:   0,
		TotalCharThreshold: 150_000,
		WindowHalfSize:     20,
	}
}

// Condensed is the derived, per-pass artifact fed to the classifiers.
// It is rebuilt fresh from the log on every pass and never persisted.
type Condensed struct {
	SessionID    string    `json:"session_id"`
	ProjectPath  string    `json:"project_path"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	Text         string    `json:"text"`
	SkillsUsed   []string  `json:"skills_used,omitempty"`
}

const (
	keyParamBudget = 200
	errorBudget    = 500
	summaryBudget  = 100

	// skillToolName is the distinguished tool whose argument names an
	// invoked skill.
	skillToolName = "Skill"

	// rejectionMarker appears in tool results when the user declined the
	// action; feedbackMarker precedes their stated reason.
	rejectionMarker = "The user doesn't want to proceed"
	feedbackMarker  = "the user said:\n"

	truncationMarker = "[... middle of conversation truncated ...]"
)

// keyParams maps well-known tool kinds to their primary argument.
var keyParams = map[string]string{
	"Bash":         "command",
	"Read":         "file_path",
	"Write":        "file_path",
	"Edit":         "file_path",
	"NotebookEdit": "notebook_path",
	"Grep":         "pattern",
	"Glob":         "pattern",
	"WebSearch":    "query",
	"WebFetch":     "url",
	"Task":         "description",
}

// nonzeroExitPattern matches shell results that failed without the error
// flag being set.
var nonzeroExitPattern = regexp.MustCompile(`(?i)(exit code|exit status) [1-9]`)

// chunk is one message's rendered contribution, tracked with its role so
// windowing can key on user-message positions.
type chunk struct {
	role transcript.Role
	body string
}

// Build condenses one session under the given mode. The output is
// deterministic: the same log and mode always yield byte-identical text.
func Build(info transcript.SessionInfo, rr *transcript.ReadResult, mode Mode) *Condensed {
	chunks := make([]chunk, 0, len(rr.Entries))
	skillSet := make(map[string]bool)

	for _, entry := range rr.Entries {
		c, ok := renderMessage(entry.Message, mode, rr.ToolNames, skillSet)
		if ok {
			chunks = append(chunks, c)
		}
	}

	text := assemble(chunks)
	if len(text) > mode.TotalCharThreshold {
		if windowed, ok := window(chunks, mode.WindowHalfSize); ok {
			text = windowed
		}
	}

	skills := make([]string, 0, len(skillSet))
	for name := range skillSet {
		skills = append(skills, name)
	}
	sort.Strings(skills)

	cond := &Condensed{
		SessionID:    info.ID,
		ProjectPath:  info.ProjectPath,
		Summary:      summarize(chunks),
		MessageCount: rr.MessageCount,
		ModifiedAt:   info.ModifiedAt,
		Text:         text,
		SkillsUsed:   skills,
	}
	if len(rr.Entries) > 0 {
		cond.CreatedAt = rr.Entries[0].Timestamp
		if last := rr.Entries[len(rr.Entries)-1].Timestamp; !last.IsZero() {
			cond.ModifiedAt = last
		}
	}
	return cond
}

// renderMessage extracts one message's text and tool-context lines.
func renderMessage(msg *transcript.Message, mode Mode, toolNames map[string]string, skillSet map[string]bool) (chunk, bool) {
	if msg == nil {
		return chunk{}, false
	}

	var lines []string

	text := messageText(msg)
	if text != "" {
		if msg.Role == transcript.RoleAssistant && mode.AssistantCharCap > 0 {
			text = truncate(text, mode.AssistantCharCap)
		}
		lines = append(lines, text)
	}

	for _, block := range msg.Blocks {
		switch block.Type {
		case transcript.BlockToolUse:
			if block.Name == skillToolName {
				if name := skillName(block.Input); name != "" {
					skillSet[name] = true
				}
				continue
			}
			lines = append(lines, fmt.Sprintf("[%s] %s", block.Name, truncate(keyParam(block.Name, block.Input), keyParamBudget)))
		case transcript.BlockToolResult:
			if _, known := toolNames[block.ToolUseID]; !known {
				continue
			}
			if line, ok := resultLine(block); ok {
				lines = append(lines, line)
			}
		}
	}

	if len(lines) == 0 {
		return chunk{}, false
	}
	return chunk{role: msg.Role, body: strings.Join(lines, "\n")}, true
}

// messageText concatenates a message's text blocks. Plain-string content is
// used verbatim; thinking and tool blocks are excluded.
func messageText(msg *transcript.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	var parts []string
	for _, block := range msg.Blocks {
		if block.Type == transcript.BlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// resultLine renders a tool result. Rejections and errors are evidence;
// successful results are noise and emit nothing.
func resultLine(block transcript.ContentBlock) (string, bool) {
	if strings.Contains(block.Result, rejectionMarker) {
		if idx := strings.Index(block.Result, feedbackMarker); idx >= 0 {
			feedback := strings.TrimSpace(block.Result[idx+len(feedbackMarker):])
			if feedback != "" {
				return "[rejected] " + feedback, true
			}
		}
		// Rejection without stated feedback is still evidence.
		return "[rejected]", true
	}
	if block.IsError || nonzeroExitPattern.MatchString(block.Result) {
		return "[error] " + truncate(block.Result, errorBudget), true
	}
	return "", false
}

// keyParam selects the primary argument for a tool invocation. Unrecognized
// tools fall back to the first string-valued argument in key order.
func keyParam(toolName string, input json.RawMessage) string {
	var params map[string]any
	if err := json.Unmarshal(input, &params); err != nil || len(params) == 0 {
		return ""
	}

	if key, ok := keyParams[toolName]; ok {
		if v, ok := params[key].(string); ok {
			return v
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := params[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// skillName extracts the invoked skill from a Skill tool input.
func skillName(input json.RawMessage) string {
	var params map[string]any
	if err := json.Unmarshal(input, &params); err != nil {
		return ""
	}
	if v, ok := params["command"].(string); ok && v != "" {
		return v
	}
	if v, ok := params["skill"].(string); ok && v != "" {
		return v
	}
	return ""
}

// assemble joins chunks into the final labeled conversation text.
func assemble(chunks []chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(roleLabel(c.role))
		sb.WriteString(c.body)
	}
	return sb.String()
}

// window keeps the first and last half-size user messages, each with its
// immediately preceding assistant message, and drops the middle behind one
// truncation marker. Early messages establish intent, late ones establish
// outcome; the middle carries the least signal for repeated instructions
// and corrections. Returns false when the user-message count does not
// exceed twice the half size.
func window(chunks []chunk, half int) (string, bool) {
	var userIdx []int
	for i, c := range chunks {
		if c.role == transcript.RoleUser {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) <= 2*half {
		return "", false
	}

	keepHead := make(map[int]bool)
	keepTail := make(map[int]bool)
	mark := func(set map[int]bool, i int) {
		set[i] = true
		if i > 0 && chunks[i-1].role == transcript.RoleAssistant {
			set[i-1] = true
		}
	}
	for _, i := range userIdx[:half] {
		mark(keepHead, i)
	}
	for _, i := range userIdx[len(userIdx)-half:] {
		mark(keepTail, i)
	}

	var sb strings.Builder
	wrote := false
	writeChunk := func(c chunk) {
		if wrote {
			sb.WriteString("\n\n")
		}
		sb.WriteString(roleLabel(c.role))
		sb.WriteString(c.body)
		wrote = true
	}

	for i, c := range chunks {
		if keepHead[i] && !keepTail[i] {
			writeChunk(c)
		}
	}
	if wrote {
		sb.WriteString("\n\n")
	}
	sb.WriteString(truncationMarker)
	wrote = true
	for i, c := range chunks {
		if keepTail[i] {
			writeChunk(c)
		}
	}
	return sb.String(), true
}

// summarize derives a short session summary from the first user message.
func summarize(chunks []chunk) string {
	for _, c := range chunks {
		if c.role != transcript.RoleUser {
			continue
		}
		line := c.body
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		return truncate(line, summaryBudget)
	}
	return ""
}

func roleLabel(role transcript.Role) string {
	if role == transcript.RoleUser {
		return "User: "
	}
	return "Assistant: "
}

// truncate shortens s to at most limit runes, appending an ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
