// Package transcript discovers session logs and streams their entries.
//
// Session logs are append-only JSONL files, one per session, grouped under
// per-project directories. Each line is one entry: a user or assistant
// message, a summary, or a bookkeeping marker. The reader filters the
// stream down to the main-chain conversation messages the condenser needs.
package transcript

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry kinds that appear in session logs. Anything that is not a user or
// assistant message is skipped by the reader.
const (
	KindUser      = "user"
	KindAssistant = "assistant"
	KindSummary   = "summary"
	KindSystem    = "system"
	KindSnapshot  = "file-history-snapshot"
	KindQueueOp   = "queue-operation"
)

// Content block types within a message.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one typed block of message content.
type ContentBlock struct {
	Type string
	// Text is set for text and thinking blocks.
	Text string
	// ID, Name and Input are set for tool_use blocks.
	ID    string
	Name  string
	Input json.RawMessage
	// ToolUseID, Result and IsError are set for tool_result blocks.
	ToolUseID string
	Result    string
	IsError   bool
}

// Message is the conversational payload of an entry.
type Message struct {
	Role Role
	// Text is set when the log carried plain-string content.
	Text string
	// Blocks is set when the log carried structured content.
	Blocks []ContentBlock
}

// Entry is one filtered record from a session log.
type Entry struct {
	Kind      string
	Timestamp time.Time
	Message   *Message
}

// ParseError records a line the reader could not parse.
type ParseError struct {
	Line  int
	Error string
}

// ReadResult holds one session's filtered entries plus side-channel facts
// gathered during the same forward pass.
type ReadResult struct {
	Entries []Entry
	// ToolNames maps tool invocation IDs to tool names. Invocations always
	// precede their results in log order, so the map is complete by the
	// time a result refers back to it.
	ToolNames map[string]string
	// MessageCount is the number of user and assistant messages kept.
	MessageCount int
	ErrorCount   int
	Errors       []ParseError
}

// SessionInfo describes a discovered session log.
type SessionInfo struct {
	ID          string
	Path        string
	ProjectPath string
	// Signature is the content-version marker used by the progress ledger.
	// Any edit to the log changes it.
	Signature  string
	ModifiedAt time.Time
	SizeBytes  int64
}
