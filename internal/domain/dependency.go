package domain

// WouldCreateCycle reports whether adding the edge "fromID depends on toID"
// closes a cycle in the dependency graph formed by features.
// A self-edge is a cycle.
func WouldCreateCycle(features []*Feature, fromID, toID string) bool {
	if fromID == toID {
		return true
	}
	graph := make(map[string][]string, len(features))
	for _, f := range features {
		graph[f.ID] = f.Dependencies
	}
	return reachable(graph, toID, fromID)
}

// reachable reports whether target can be reached from start by following dependency edges.
func reachable(graph map[string][]string, start, target string) bool {
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, graph[id]...)
	}
	return false
}

// ValidateDependencies checks that replacing featureID's dependency set with deps
// keeps the graph acyclic and refers only to known features.
func ValidateDependencies(features []*Feature, featureID string, deps []string) error {
	known := make(map[string]bool, len(features))
	// Evaluate against the graph with featureID's current edges removed,
	// so that dropping an edge and adding another in one edit is judged on the result.
	graph := make([]*Feature, 0, len(features))
	for _, f := range features {
		known[f.ID] = true
		if f.ID == featureID {
			graph = append(graph, &Feature{ID: f.ID})
			continue
		}
		graph = append(graph, f)
	}

	for _, dep := range deps {
		if !known[dep] {
			return &unknownDependencyError{id: dep}
		}
	}

	// Any cycle through a new edge must reach featureID first, so each edge
	// can be checked on its own.
	for _, dep := range deps {
		if WouldCreateCycle(graph, featureID, dep) {
			return &CyclicDependencyError{FeatureID: featureID, DependencyID: dep}
		}
	}
	return nil
}

// NormalizeDependencies removes duplicates and empty IDs, keeping first-seen order.
func NormalizeDependencies(deps []string) []string {
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

type unknownDependencyError struct {
	id string
}

func (e *unknownDependencyError) Error() string {
	return ErrUnknownDependency.Error() + ": " + e.id
}

func (e *unknownDependencyError) Unwrap() error { return ErrUnknownDependency }
