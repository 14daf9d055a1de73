package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReasoningEffort scales how long an agent run may take.
type ReasoningEffort string

const (
	EffortNone    ReasoningEffort = "none"
	EffortMinimal ReasoningEffort = "minimal"
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
	EffortXHigh   ReasoningEffort = "xhigh"
)

// effortMultipliers maps each effort level to its timeout multiplier.
var effortMultipliers = map[ReasoningEffort]float64{
	EffortNone:    1,
	EffortMinimal: 1.5,
	EffortLow:     2,
	EffortMedium:  2.5,
	EffortHigh:    3,
	EffortXHigh:   4,
}

// Multiplier returns the timeout multiplier for the effort.
// Unknown or empty efforts scale by 1.
func (e ReasoningEffort) Multiplier() float64 {
	if m, ok := effortMultipliers[e]; ok {
		return m
	}
	return 1
}

// ScaledTimeout returns base scaled by the effort multiplier.
// A non-positive base means no timeout and is returned unchanged.
func ScaledTimeout(base time.Duration, effort ReasoningEffort) time.Duration {
	if base <= 0 {
		return base
	}
	return time.Duration(float64(base) * effort.Multiplier())
}

// ParseReasoningEffort parses an effort name. The empty string is accepted as "unset".
func ParseReasoningEffort(s string) (ReasoningEffort, error) {
	e := ReasoningEffort(strings.ToLower(strings.TrimSpace(s)))
	if e == "" {
		return "", nil
	}
	if _, ok := effortMultipliers[e]; !ok {
		return "", fmt.Errorf("invalid reasoning effort %q (want none, minimal, low, medium, high or xhigh)", s)
	}
	return e, nil
}

// Or returns e, or fallback when e is unset.
func (e ReasoningEffort) Or(fallback ReasoningEffort) ReasoningEffort {
	if e == "" {
		return fallback
	}
	return e
}
