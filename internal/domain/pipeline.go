package domain

import (
	"fmt"
	"regexp"
)

// PipelineStage is a user-defined step between in_progress and waiting_approval.
type PipelineStage struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

// Pipeline is the ordered list of configured stages. A nil Pipeline has no stages.
type Pipeline struct {
	Stages []PipelineStage `yaml:"stages" json:"stages"`
}

var stageIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks that stage IDs are present, well-formed and unique.
func (p *Pipeline) Validate() error {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool, len(p.Stages))
	for i, st := range p.Stages {
		if !stageIDPattern.MatchString(st.ID) {
			return fmt.Errorf("%w: stage %d has invalid id %q", ErrInvalidPipeline, i, st.ID)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: duplicate stage id %q", ErrInvalidPipeline, st.ID)
		}
		seen[st.ID] = true
	}
	return nil
}

// Stage looks up a stage by ID and returns it with its index.
func (p *Pipeline) Stage(id string) (PipelineStage, int, bool) {
	if p == nil {
		return PipelineStage{}, -1, false
	}
	for i, st := range p.Stages {
		if st.ID == id {
			return st, i, true
		}
	}
	return PipelineStage{}, -1, false
}

// NextStage returns the stage that follows current.
// in_progress is followed by the first stage; the last stage has no successor.
func (p *Pipeline) NextStage(current Status) (PipelineStage, bool) {
	if p == nil || len(p.Stages) == 0 {
		return PipelineStage{}, false
	}
	next := 0
	if current.IsStage() {
		_, idx, ok := p.Stage(current.StageID())
		if !ok {
			return PipelineStage{}, false
		}
		next = idx + 1
	} else if current != StatusInProgress {
		return PipelineStage{}, false
	}
	if next >= len(p.Stages) {
		return PipelineStage{}, false
	}
	return p.Stages[next], true
}

// Statuses returns every status valid under the pipeline, in board order.
func (p *Pipeline) Statuses() []Status {
	out := []Status{StatusBacklog, StatusInProgress}
	if p != nil {
		for _, st := range p.Stages {
			out = append(out, StageStatus(st.ID))
		}
	}
	return append(out, StatusWaitingApproval, StatusVerified, StatusFailed)
}

// DecideNextStatus returns the status a feature moves to after an implement or stage run.
// It decides legality only; whether to run the feature again is scheduler policy.
func DecideNextStatus(f *Feature, outcome RunOutcome, p *Pipeline) Status {
	switch outcome {
	case OutcomeSuccess:
		if f.SkipTests {
			return StatusWaitingApproval
		}
		if st, ok := p.NextStage(f.Status); ok {
			return StageStatus(st.ID)
		}
		return StatusVerified
	case OutcomeCancelled:
		return StatusBacklog
	default:
		return StatusFailed
	}
}

// DecideVerifyStatus returns the status after a verification run of a feature
// that was waiting for approval.
func DecideVerifyStatus(outcome RunOutcome) Status {
	switch outcome {
	case OutcomeSuccess:
		return StatusVerified
	case OutcomeCancelled:
		return StatusWaitingApproval
	default:
		return StatusFailed
	}
}
