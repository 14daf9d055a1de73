package domain

import "testing"

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		command string
		want    ToolKind
	}{
		{"cat main.go", ToolRead},
		{"head -n 20 README.md", ToolRead},
		{"/usr/bin/tail -f log.txt", ToolRead},
		{"rg TODO", ToolSearch},
		{"grep -rn foo .", ToolSearch},
		{"find . -name '*.go'", ToolSearch},
		{"ls -la", ToolList},
		{"tree internal", ToolList},
		{"echo hi > out.txt", ToolWrite},
		{"echo hi >> out.txt", ToolWrite},
		{"echo hi>out.txt", ToolWrite},
		{"go test ./... > /dev/null", ToolExecute},
		{"make 2>&1", ToolExecute},
		{"sed -i 's/a/b/' file.go", ToolEdit},
		{"sed -i.bak 's/a/b/' file.go", ToolEdit},
		{"sed 's/a/b/' file.go", ToolExecute},
		{"perl -pi -e 's/a/b/' file", ToolEdit},
		{"apply_patch <<'EOF'", ToolEdit},
		{"git grep foo", ToolSearch},
		{"git diff", ToolRead},
		{"git commit -m msg", ToolExecute},
		{`bash -lc "cat go.mod"`, ToolRead},
		{`bash -lc 'ls -la && rm -rf x'`, ToolList},
		{"cat a | grep b", ToolRead},
		{"go build ./...", ToolExecute},
		{"", ToolExecute},
		{"   ", ToolExecute},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := ClassifyCommand(tt.command); got != tt.want {
				t.Errorf("ClassifyCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestClassifyToolName(t *testing.T) {
	tests := []struct {
		name string
		want ToolKind
	}{
		{"Read", ToolRead},
		{"Write", ToolWrite},
		{"MultiEdit", ToolEdit},
		{"Glob", ToolSearch},
		{"LS", ToolList},
		{"Bash", ToolExecute},
		{"SomethingNew", ToolExecute},
	}
	for _, tt := range tests {
		if got := ClassifyToolName(tt.name); got != tt.want {
			t.Errorf("ClassifyToolName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
