package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure PipelineLoader implements domain.PipelineLoader.
var _ domain.PipelineLoader = (*PipelineLoader)(nil)

// PipelineLoader reads pipeline stages from pipeline.yaml.
type PipelineLoader struct {
	path string
}

// NewPipelineLoader creates a PipelineLoader for the data directory.
func NewPipelineLoader(dataDir string) *PipelineLoader {
	return &PipelineLoader{path: domain.PipelinePath(dataDir)}
}

// LoadPipeline returns the configured stages. A missing file is an empty pipeline.
func (l *PipelineLoader) LoadPipeline() (*domain.Pipeline, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return &domain.Pipeline{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", l.path, err)
	}

	var p domain.Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidPipeline, l.path, err)
	}
	for i := range p.Stages {
		if p.Stages[i].Name == "" {
			p.Stages[i].Name = p.Stages[i].ID
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
