package usecase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "ascii", in: "abcdef", n: 3, want: "abc..."},
		{name: "cut inside a rune", in: "aé日本", n: 4, want: "aé..."},
		{name: "cut at a rune start", in: "aé日本", n: 3, want: "aé..."},
		{name: "first rune too long", in: "日本", n: 2, want: "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)

			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestTruncate_ToolOutputStaysValidUTF8(t *testing.T) {
	// Setup
	output := "x" + strings.Repeat("日", maxToolResultLen)

	// Execute
	got := truncate(output, maxToolResultLen)

	// Assert
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxToolResultLen+len("..."))
	assert.True(t, strings.HasSuffix(got, "日..."))
}
