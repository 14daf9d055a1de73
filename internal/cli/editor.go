package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// openEditorFunc is a function variable for running the editor, allowing it to be mocked in tests.
var openEditorFunc = openEditor

// getEditor returns the user's preferred editor from environment variables.
// It checks EDITOR, then VISUAL, and defaults to vi if neither is set.
func getEditor() string {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}
	return editor
}

// openEditor opens the specified file in the user's editor.
// EDITOR may carry arguments, e.g. "code --wait".
func openEditor(filePath string) error {
	fields := strings.Fields(getEditor())
	cmd := exec.Command(fields[0], append(fields[1:], filePath)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor %s: %w", fields[0], err)
	}
	return nil
}

// editText lets the user edit text in a temporary file and returns the result.
// changed is false when the saved content equals the original.
func editText(pattern, original string) (edited string, changed bool, err error) {
	tmpFile, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, writeErr := tmpFile.WriteString(original); writeErr != nil {
		_ = tmpFile.Close()
		return "", false, fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr := tmpFile.Close(); closeErr != nil {
		return "", false, fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if editorErr := openEditorFunc(tmpPath); editorErr != nil {
		return "", false, editorErr
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", false, fmt.Errorf("failed to read edited file: %w", err)
	}
	edited = strings.TrimRight(string(content), "\n")
	return edited, edited != strings.TrimRight(original, "\n"), nil
}
