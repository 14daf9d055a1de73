package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graph(edges map[string][]string) []*Feature {
	var out []*Feature
	for id, deps := range edges {
		out = append(out, &Feature{ID: id, Dependencies: deps})
	}
	return out
}

func TestWouldCreateCycle(t *testing.T) {
	features := graph(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
		"d": nil,
	})

	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"self edge", "a", "a", true},
		{"direct back edge", "a", "b", true},
		{"transitive back edge", "a", "c", true},
		{"forward edge", "c", "a", false},
		{"unrelated", "d", "c", false},
		{"unknown target", "a", "zzz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WouldCreateCycle(features, tt.from, tt.to))
		})
	}
}

func TestValidateDependencies(t *testing.T) {
	features := graph(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})

	t.Run("transitive cycle rejected", func(t *testing.T) {
		err := ValidateDependencies(features, "a", []string{"c"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCyclicDependency)

		var cycErr *CyclicDependencyError
		require.True(t, errors.As(err, &cycErr))
		assert.Equal(t, "a", cycErr.FeatureID)
		assert.Equal(t, "c", cycErr.DependencyID)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		err := ValidateDependencies(features, "a", []string{"nope"})
		assert.ErrorIs(t, err, ErrUnknownDependency)
	})

	t.Run("replacing an edge is judged on the result", func(t *testing.T) {
		// b currently depends on a; making b depend on nothing lets a depend on b.
		edited := graph(map[string][]string{"a": nil, "b": nil})
		assert.NoError(t, ValidateDependencies(edited, "a", []string{"b"}))
		// c -> b -> a, so c may drop b and still depend on a.
		assert.NoError(t, ValidateDependencies(features, "c", []string{"a"}))
	})

	t.Run("acyclic accepted", func(t *testing.T) {
		assert.NoError(t, ValidateDependencies(features, "c", []string{"a", "b"}))
	})
}

func TestNormalizeDependencies(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NormalizeDependencies([]string{"a", "", "b", "a"}))
	assert.Empty(t, NormalizeDependencies(nil))
}
