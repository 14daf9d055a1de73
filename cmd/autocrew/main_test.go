package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanRunWithoutGit(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{
			name: "no args",
			args: nil,
			want: true,
		},
		{
			name: "help flag",
			args: []string{"--help"},
			want: true,
		},
		{
			name: "help after a subcommand",
			args: []string{"feature", "add", "-h"},
			want: true,
		},
		{
			name: "version flag",
			args: []string{"--version"},
			want: true,
		},
		{
			name: "help subcommand",
			args: []string{"help", "auto"},
			want: true,
		},
		{
			name: "status queries a server",
			args: []string{"status", "--addr", "127.0.0.1:4000"},
			want: true,
		},
		{
			name: "non-allowed command",
			args: []string{"feature", "add", "Add login"},
			want: false,
		},
		{
			name: "auto needs a repository",
			args: []string{"auto"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canRunWithoutGit(tt.args))
		})
	}
}

func TestRunWithoutContainer_ReturnsGitError(t *testing.T) {
	// Setup
	originalArgs := os.Args
	t.Cleanup(func() { os.Args = originalArgs })
	os.Args = []string{"autocrew", "auto"}
	gitErr := errors.New("not a git repository")

	// Execute
	err := runWithoutContainer(gitErr)

	// Assert
	assert.ErrorIs(t, err, gitErr)
}
