package domain

import "slices"

// SelectEligible returns up to slots features that may start a run now.
//
// A backlog feature is eligible when all of its dependencies are verified.
// A feature sitting in a pipeline stage is eligible to run that stage and is
// ordered ahead of backlog features so that stage advancement does not starve.
// Features in running are skipped. Within each group the stored order (Seq) wins.
func SelectEligible(features []*Feature, running map[string]bool, slots int, p *Pipeline) []*Feature {
	if slots <= 0 {
		return nil
	}

	byID := make(map[string]*Feature, len(features))
	for _, f := range features {
		byID[f.ID] = f
	}

	var stages, backlog []*Feature
	for _, f := range features {
		if running[f.ID] {
			continue
		}
		switch {
		case f.Status.IsStage():
			if _, _, ok := p.Stage(f.Status.StageID()); ok && f.DependenciesMet(byID) {
				stages = append(stages, f)
			}
		case f.Status == StatusBacklog:
			if f.DependenciesMet(byID) {
				backlog = append(backlog, f)
			}
		}
	}

	bySeq := func(a, b *Feature) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	}
	slices.SortStableFunc(stages, bySeq)
	slices.SortStableFunc(backlog, bySeq)

	out := append(stages, backlog...)
	if len(out) > slots {
		out = out[:slots]
	}
	return out
}
