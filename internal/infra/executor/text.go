package executor

import (
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// textDecoder treats each output line as assistant text.
// The process exit status decides the result.
type textDecoder struct {
	last string
}

func (d *textDecoder) Decode(line []byte) []domain.AgentMessage {
	text := strings.TrimRight(string(line), "\r")
	d.last = text
	return []domain.AgentMessage{domain.TextMessage(text)}
}

func (d *textDecoder) Finish(waitErr error, stderr string) (domain.AgentMessage, bool) {
	if waitErr != nil {
		return exitMessage(waitErr, stderr, ""), true
	}
	return domain.ResultMessage(domain.ResultSuccess, d.last), true
}

func (d *textDecoder) SessionID() string { return "" }
