package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledTimeout(t *testing.T) {
	base := 30 * time.Second
	tests := []struct {
		effort ReasoningEffort
		want   time.Duration
	}{
		{EffortNone, 30 * time.Second},
		{EffortMinimal, 45 * time.Second},
		{EffortLow, 60 * time.Second},
		{EffortMedium, 75 * time.Second},
		{EffortHigh, 90 * time.Second},
		{EffortXHigh, 120 * time.Second},
		{"", 30 * time.Second},
		{"extreme", 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(string(tt.effort), func(t *testing.T) {
			assert.Equal(t, tt.want, ScaledTimeout(base, tt.effort))
		})
	}

	assert.Equal(t, time.Duration(0), ScaledTimeout(0, EffortHigh))
}

func TestParseReasoningEffort(t *testing.T) {
	e, err := ParseReasoningEffort(" High ")
	require.NoError(t, err)
	assert.Equal(t, EffortHigh, e)

	e, err = ParseReasoningEffort("")
	require.NoError(t, err)
	assert.Equal(t, ReasoningEffort(""), e)

	_, err = ParseReasoningEffort("turbo")
	assert.Error(t, err)
}

func TestReasoningEffort_Or(t *testing.T) {
	assert.Equal(t, EffortLow, ReasoningEffort("").Or(EffortLow))
	assert.Equal(t, EffortHigh, EffortHigh.Or(EffortLow))
}
