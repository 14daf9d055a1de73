package executor

import (
	"encoding/json"
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// streamJSONDecoder reads the stream-json line protocol shared by claude and cursor-agent.
type streamJSONDecoder struct {
	session string
}

type sjLine struct {
	Message   *sjMessage `json:"message"`
	Type      string     `json:"type"`
	Subtype   string     `json:"subtype"`
	Result    string     `json:"result"`
	SessionID string     `json:"session_id"`
	IsError   bool       `json:"is_error"`
}

type sjMessage struct {
	Content []sjBlock `json:"content"`
}

type sjBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	ToolUseID string          `json:"tool_use_id"`
	Input     json.RawMessage `json:"input"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func (d *streamJSONDecoder) Decode(line []byte) []domain.AgentMessage {
	var l sjLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil
	}
	if l.SessionID != "" {
		d.session = l.SessionID
	}

	switch l.Type {
	case "assistant", "user":
		if l.Message == nil {
			return nil
		}
		blocks := make([]domain.ContentBlock, 0, len(l.Message.Content))
		for _, b := range l.Message.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					blocks = append(blocks, domain.ContentBlock{Kind: domain.BlockText, Text: b.Text})
				}
			case "tool_use":
				blocks = append(blocks, toolUseBlock(b.ID, b.Name, b.Input))
			case "tool_result":
				blocks = append(blocks, domain.ContentBlock{
					Kind:      domain.BlockToolResult,
					ToolUseID: b.ToolUseID,
					Output:    flattenContent(b.Content),
					IsError:   b.IsError,
				})
			}
		}
		if len(blocks) == 0 {
			return nil
		}
		return []domain.AgentMessage{{Type: domain.MessageAssistant, SessionID: d.session, Content: blocks}}
	case "result":
		msg := domain.AgentMessage{Type: domain.MessageResult, Result: l.Result, SessionID: d.session}
		if l.IsError || (l.Subtype != "" && l.Subtype != "success") {
			msg.Subtype = domain.ResultError
			msg.Error = l.Result
			if msg.Error == "" {
				msg.Error = l.Subtype
			}
		} else {
			msg.Subtype = domain.ResultSuccess
		}
		return []domain.AgentMessage{msg}
	}
	return nil
}

func (d *streamJSONDecoder) Finish(waitErr error, stderr string) (domain.AgentMessage, bool) {
	if waitErr != nil {
		return exitMessage(waitErr, stderr, d.session), true
	}
	// A clean exit without a result line is reported as an abnormal end.
	return domain.AgentMessage{}, false
}

func (d *streamJSONDecoder) SessionID() string { return d.session }

// toolUseBlock builds a tool_use block, classifying shell tools by their command.
func toolUseBlock(id, name string, input json.RawMessage) domain.ContentBlock {
	kind := domain.ClassifyToolName(name)
	if kind == domain.ToolExecute {
		var in struct {
			Command string `json:"command"`
		}
		if json.Unmarshal(input, &in) == nil && in.Command != "" {
			kind = domain.ClassifyCommand(in.Command)
		}
	}
	return domain.ContentBlock{
		Kind:      domain.BlockToolUse,
		ToolName:  name,
		ToolKind:  kind,
		ToolUseID: id,
		Input:     input,
	}
}

// flattenContent turns a tool_result content (string or list of text parts) into text.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &parts) == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}
