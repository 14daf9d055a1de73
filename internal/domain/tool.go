package domain

import (
	"path/filepath"
	"strings"
)

// ToolKind is the provider-independent classification of a tool call.
type ToolKind string

const (
	ToolRead    ToolKind = "read"
	ToolWrite   ToolKind = "write"
	ToolEdit    ToolKind = "edit"
	ToolSearch  ToolKind = "search"
	ToolList    ToolKind = "list"
	ToolExecute ToolKind = "execute"
)

// commandKinds maps a shell command name to its classification.
// Commands missing from the table are ToolExecute.
var commandKinds = map[string]ToolKind{
	"cat":   ToolRead,
	"head":  ToolRead,
	"tail":  ToolRead,
	"less":  ToolRead,
	"more":  ToolRead,
	"bat":   ToolRead,
	"nl":    ToolRead,
	"wc":    ToolRead,
	"grep":  ToolSearch,
	"egrep": ToolSearch,
	"rg":    ToolSearch,
	"ag":    ToolSearch,
	"ack":   ToolSearch,
	"find":  ToolSearch,
	"fd":    ToolSearch,
	"ls":    ToolList,
	"tree":  ToolList,
	"du":    ToolList,
	"tee":   ToolWrite,
	"touch": ToolWrite,
	"patch": ToolEdit,
	// apply_patch is the codex editing helper.
	"apply_patch": ToolEdit,
}

// inPlaceFlags lists commands that edit files when given one of the flags.
var inPlaceFlags = map[string][]string{
	"sed":  {"-i", "--in-place"},
	"perl": {"-i", "-pi"},
}

// shellWrappers are interpreters whose -c/-lc argument is the real command.
var shellWrappers = map[string]bool{
	"bash": true,
	"sh":   true,
	"zsh":  true,
}

// toolNameKinds maps structured tool names reported by providers to a classification.
var toolNameKinds = map[string]ToolKind{
	"read":         ToolRead,
	"view":         ToolRead,
	"notebookread": ToolRead,
	"write":        ToolWrite,
	"create":       ToolWrite,
	"edit":         ToolEdit,
	"multiedit":    ToolEdit,
	"notebookedit": ToolEdit,
	"str_replace":  ToolEdit,
	"grep":         ToolSearch,
	"search":       ToolSearch,
	"glob":         ToolSearch,
	"websearch":    ToolSearch,
	"ls":           ToolList,
	"list":         ToolList,
	"bash":         ToolExecute,
	"shell":        ToolExecute,
}

// ClassifyCommand classifies a raw shell command string.
// Output redirection (">" or ">>") makes any command a write. Compound and piped
// commands are classified by their first segment; misclassification only affects display.
func ClassifyCommand(command string) ToolKind {
	tokens := tokenize(command)
	tokens = unwrapShell(tokens)
	if len(tokens) == 0 {
		return ToolExecute
	}

	if hasRedirect(tokens) {
		return ToolWrite
	}

	name := filepath.Base(tokens[0])
	if flags, ok := inPlaceFlags[name]; ok {
		for _, tok := range tokens[1:] {
			for _, f := range flags {
				if tok == f || strings.HasPrefix(tok, f) && name == "sed" && f == "-i" {
					return ToolEdit
				}
			}
		}
		return ToolExecute
	}
	if name == "git" && len(tokens) > 1 {
		switch tokens[1] {
		case "grep":
			return ToolSearch
		case "ls-files":
			return ToolList
		case "show", "diff", "log", "status":
			return ToolRead
		}
		return ToolExecute
	}
	if kind, ok := commandKinds[name]; ok {
		return kind
	}
	return ToolExecute
}

// ClassifyToolName classifies a structured tool name such as "Read" or "MultiEdit".
func ClassifyToolName(name string) ToolKind {
	if kind, ok := toolNameKinds[strings.ToLower(name)]; ok {
		return kind
	}
	return ToolExecute
}

// tokenize splits a command on whitespace, honoring single and double quotes,
// and stops at the first pipe or command separator.
func tokenize(command string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		case r == '|' || r == ';' || r == '&':
			flush()
			return tokens
		case r == '>':
			flush()
			tokens = append(tokens, ">")
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return tokens
}

// unwrapShell replaces `bash -lc "<cmd>"` with the tokens of <cmd>.
func unwrapShell(tokens []string) []string {
	for len(tokens) >= 3 && shellWrappers[filepath.Base(tokens[0])] &&
		(tokens[1] == "-c" || tokens[1] == "-lc") {
		tokens = tokenize(tokens[2])
	}
	return tokens
}

// hasRedirect reports an output redirection to a real file.
func hasRedirect(tokens []string) bool {
	for i, tok := range tokens {
		if tok != ">" || i+1 >= len(tokens) {
			continue
		}
		target := tokens[i+1]
		if target == ">" && i+2 < len(tokens) {
			target = tokens[i+2]
		}
		if target != "/dev/null" && !strings.HasPrefix(target, "&") {
			return true
		}
	}
	return false
}
