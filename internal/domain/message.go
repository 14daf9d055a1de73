package domain

import "encoding/json"

// MessageType discriminates the messages of an agent stream.
type MessageType string

const (
	MessageAssistant MessageType = "assistant"
	MessageResult    MessageType = "result"
)

// ResultSubtype is the kind of terminal result.
type ResultSubtype string

const (
	ResultSuccess ResultSubtype = "success"
	ResultError   ResultSubtype = "error"
	ResultTimeout ResultSubtype = "timeout"
)

// BlockKind discriminates the content blocks of an assistant message.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// AgentMessage is one structured message produced by an agent run.
// A stream carries zero or more assistant messages and at most one result.
type AgentMessage struct {
	Type      MessageType    `json:"type"`
	Subtype   ResultSubtype  `json:"subtype,omitempty"`   // result only
	Result    string         `json:"result,omitempty"`    // result only: final summary text
	Error     string         `json:"error,omitempty"`     // result only: provider error text
	SessionID string         `json:"sessionId,omitempty"` // Provider session, for resume
	Content   []ContentBlock `json:"content,omitempty"`   // assistant only
}

// IsTerminal returns true for result messages.
func (m AgentMessage) IsTerminal() bool {
	return m.Type == MessageResult
}

// ContentBlock is a single piece of an assistant message.
// Fields are ordered to minimize memory padding.
type ContentBlock struct {
	Kind      BlockKind       `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolKind  ToolKind        `json:"toolKind,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	Output    string          `json:"output,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
}

// TextMessage builds an assistant message with a single text block.
func TextMessage(text string) AgentMessage {
	return AgentMessage{Type: MessageAssistant, Content: []ContentBlock{{Kind: BlockText, Text: text}}}
}

// ResultMessage builds a terminal result message.
func ResultMessage(subtype ResultSubtype, result string) AgentMessage {
	return AgentMessage{Type: MessageResult, Subtype: subtype, Result: result}
}
