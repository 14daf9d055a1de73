// Package prompt renders agent prompts from text/template sources.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure Builder implements domain.PromptBuilder.
var _ domain.PromptBuilder = (*Builder)(nil)

const implementTemplate = `You are implementing a feature in the repository at {{.ProjectPath}}.

Feature {{.Feature.ID}}{{with .Feature.Category}} ({{.}}){{end}}:
{{.Feature.Description}}
{{- if .Feature.Steps}}

Steps:
{{- range $i, $s := .Feature.Steps}}
{{add $i 1}}. {{$s}}
{{- end}}
{{- end}}
{{- if .Feature.Images}}

Reference images:
{{- range .Feature.Images}}
- {{.}}
{{- end}}
{{- end}}

Make the change, keep the build and tests passing{{if not .Feature.SkipTests}}, add tests for the new behavior{{end}}, and finish with a short summary of what you did.
`

const resumeTemplate = `Continue working on feature {{.Feature.ID}} in {{.ProjectPath}}.

{{.Feature.Description}}
{{- with .Feature.Summary}}

Last summary:
{{.}}
{{- end}}

Pick up where the previous session stopped and finish with a short summary.
`

const verifyTemplate = `Verify feature {{.Feature.ID}} in {{.ProjectPath}}.

{{.Feature.Description}}

Check that the change is complete, builds, and passes its tests. Fix small problems you find.
Report success only if the feature works as described.
`

const stageTemplate = `Run the "{{.Stage.Name}}" stage for feature {{.Feature.ID}} in {{.ProjectPath}}.

Feature:
{{.Feature.Description}}

{{.Stage.Instructions}}
`

var defaultSources = map[domain.RunMode]string{
	domain.ModeImplement: implementTemplate,
	domain.ModeResume:    resumeTemplate,
	domain.ModeVerify:    verifyTemplate,
	domain.ModeStage:     stageTemplate,
}

var funcs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
}

// Builder renders one template per run mode.
type Builder struct {
	templates map[domain.RunMode]*template.Template
}

// NewBuilder returns a Builder with the built-in templates.
func NewBuilder() *Builder {
	b := &Builder{templates: make(map[domain.RunMode]*template.Template, len(defaultSources))}
	for mode, src := range defaultSources {
		b.templates[mode] = template.Must(template.New(string(mode)).Funcs(funcs).Parse(src))
	}
	return b
}

// LoadOverrides replaces built-in templates with <dir>/<mode>.tmpl files when present.
func (b *Builder) LoadOverrides(dir string) error {
	for mode := range defaultSources {
		path := filepath.Join(dir, string(mode)+".tmpl")
		src, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read prompt template: %w", err)
		}
		tmpl, err := template.New(string(mode)).Funcs(funcs).Parse(string(src))
		if err != nil {
			return fmt.Errorf("parse prompt template %s: %w", path, err)
		}
		b.templates[mode] = tmpl
	}
	return nil
}

// Build renders the prompt for req.
func (b *Builder) Build(req domain.PromptRequest) (string, error) {
	if req.Feature == nil {
		return "", errors.New("build prompt: feature is required")
	}
	tmpl, ok := b.templates[req.Mode]
	if !ok {
		return "", fmt.Errorf("build prompt: unknown mode %q", req.Mode)
	}
	if req.Mode == domain.ModeStage && req.Stage == nil {
		return "", errors.New("build prompt: stage mode requires a stage")
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, req); err != nil {
		return "", fmt.Errorf("build %s prompt: %w", req.Mode, err)
	}
	return sb.String(), nil
}
