// Package agentapi holds the caller-facing request and response model shared by
// every stage of the agent pipeline.
package agentapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sensitivity describes how carefully content must be handled.
// Levels are ordered: low < medium < high < sacred.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
	SensitivitySacred Sensitivity = "sacred"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityLow:    0,
	SensitivityMedium: 1,
	SensitivityHigh:   2,
	SensitivitySacred: 3,
}

// Sensitivities lists all levels in ascending order.
func Sensitivities() []Sensitivity {
	return []Sensitivity{SensitivityLow, SensitivityMedium, SensitivityHigh, SensitivitySacred}
}

// ParseSensitivity parses a level case-insensitively. Empty input yields low.
func ParseSensitivity(s string) (Sensitivity, error) {
	v := Sensitivity(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return SensitivityLow, nil
	}
	if _, ok := sensitivityRank[v]; !ok {
		return "", fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidRequest, s)
	}
	return v, nil
}

// Valid reports whether s is a known level.
func (s Sensitivity) Valid() bool {
	_, ok := sensitivityRank[s]
	return ok
}

// Rank returns the position of s in the ordering, or -1 for unknown levels.
func (s Sensitivity) Rank() int {
	r, ok := sensitivityRank[s]
	if !ok {
		return -1
	}
	return r
}

// AtLeast reports whether s is at or above other.
func (s Sensitivity) AtLeast(other Sensitivity) bool {
	return s.Rank() >= other.Rank()
}

// UnmarshalJSON accepts any casing and rejects unknown levels.
func (s *Sensitivity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseSensitivity(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
