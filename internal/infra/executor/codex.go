package executor

import (
	"encoding/json"

	"github.com/runoshun/autocrew/internal/domain"
)

// codexDecoder reads codex exec --json event lines.
// Codex reports shell activity as raw command strings, which are classified
// into the common tool vocabulary.
type codexDecoder struct {
	session     string
	lastMessage string
	failed      string
}

type codexEvent struct {
	Item     *codexItem  `json:"item"`
	Error    *codexError `json:"error"`
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id"`
	Message  string      `json:"message"`
}

type codexError struct {
	Message string `json:"message"`
}

type codexChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type codexItem struct {
	ExitCode *int          `json:"exit_code"`
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Text     string        `json:"text"`
	Command  string        `json:"command"`
	Output   string        `json:"aggregated_output"`
	Status   string        `json:"status"`
	Changes  []codexChange `json:"changes"`
}

func (d *codexDecoder) Decode(line []byte) []domain.AgentMessage {
	var ev codexEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "thread.started":
		d.session = ev.ThreadID
		return nil
	case "item.started":
		if ev.Item != nil && ev.Item.Type == "command_execution" {
			return []domain.AgentMessage{d.assistant(d.commandUse(ev.Item))}
		}
		return nil
	case "item.completed":
		return d.completed(ev.Item)
	case "turn.completed":
		return []domain.AgentMessage{{
			Type:      domain.MessageResult,
			Subtype:   domain.ResultSuccess,
			Result:    d.lastMessage,
			SessionID: d.session,
		}}
	case "turn.failed":
		msg := "turn failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []domain.AgentMessage{{
			Type:      domain.MessageResult,
			Subtype:   domain.ResultError,
			Error:     msg,
			SessionID: d.session,
		}}
	case "error":
		// Stream errors may be followed by a retry; remember them for Finish.
		d.failed = ev.Message
		return nil
	}
	return nil
}

func (d *codexDecoder) completed(item *codexItem) []domain.AgentMessage {
	if item == nil {
		return nil
	}
	switch item.Type {
	case "agent_message":
		d.lastMessage = item.Text
		return []domain.AgentMessage{d.assistant(domain.ContentBlock{Kind: domain.BlockText, Text: item.Text})}
	case "reasoning":
		return nil
	case "command_execution":
		failed := item.Status == "failed" || (item.ExitCode != nil && *item.ExitCode != 0)
		return []domain.AgentMessage{d.assistant(domain.ContentBlock{
			Kind:      domain.BlockToolResult,
			ToolUseID: item.ID,
			Output:    item.Output,
			IsError:   failed,
		})}
	case "file_change":
		input, _ := json.Marshal(item.Changes)
		return []domain.AgentMessage{d.assistant(
			domain.ContentBlock{
				Kind:      domain.BlockToolUse,
				ToolName:  "apply_patch",
				ToolKind:  domain.ToolEdit,
				ToolUseID: item.ID,
				Input:     input,
			},
			domain.ContentBlock{Kind: domain.BlockToolResult, ToolUseID: item.ID, Output: item.Status},
		)}
	}
	return nil
}

func (d *codexDecoder) commandUse(item *codexItem) domain.ContentBlock {
	input, _ := json.Marshal(map[string]string{"command": item.Command})
	return domain.ContentBlock{
		Kind:      domain.BlockToolUse,
		ToolName:  "shell",
		ToolKind:  domain.ClassifyCommand(item.Command),
		ToolUseID: item.ID,
		Input:     input,
	}
}

func (d *codexDecoder) assistant(blocks ...domain.ContentBlock) domain.AgentMessage {
	return domain.AgentMessage{Type: domain.MessageAssistant, SessionID: d.session, Content: blocks}
}

func (d *codexDecoder) Finish(waitErr error, stderr string) (domain.AgentMessage, bool) {
	if waitErr != nil {
		return exitMessage(waitErr, stderr, d.session), true
	}
	if d.failed != "" {
		return domain.AgentMessage{
			Type:      domain.MessageResult,
			Subtype:   domain.ResultError,
			Error:     d.failed,
			SessionID: d.session,
		}, true
	}
	return domain.AgentMessage{}, false
}

func (d *codexDecoder) SessionID() string { return d.session }
