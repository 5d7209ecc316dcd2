package common

import (
	"fmt"
	"strings"
)

// Strength is the evidentiary weight an edge contributes to a failure mode.
// The zero value is StrengthUnknown: the author did not specify it and it
// must not contribute to any combination.
type Strength string

const (
	StrengthUnknown Strength = ""
	Confirms        Strength = "confirms"
	Suggests        Strength = "suggests"
	Inconclusive    Strength = "inconclusive"
	SuggestsAgainst Strength = "suggests_against"
	// RulesOut is an absolute veto rather than a point on the scale.
	RulesOut Strength = "rules_out"
)

// Strengths lists every known strength, strongest first, veto last.
var Strengths = []Strength{Confirms, Suggests, Inconclusive, SuggestsAgainst, RulesOut}

// ParseStrength converts an authored strength into a Strength. Empty,
// "null" and "unknown" map to StrengthUnknown.
func ParseStrength(s string) (Strength, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "null", "none", "unknown":
		return StrengthUnknown, nil
	}
	st := Strength(v)
	if !st.Valid() {
		return StrengthUnknown, fmt.Errorf("invalid strength %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the five known strengths.
func (s Strength) Valid() bool {
	switch s {
	case Confirms, Suggests, Inconclusive, SuggestsAgainst, RulesOut:
		return true
	}
	return false
}

// Known reports whether s carries a signal.
func (s Strength) Known() bool {
	return s != StrengthUnknown
}

// IsVeto reports whether s is rules_out.
func (s Strength) IsVeto() bool {
	return s == RulesOut
}

// Decisive reports whether s settles a failure mode on its own.
func (s Strength) Decisive() bool {
	return s == Confirms || s == RulesOut
}

// Rank returns the position of s in the total order used for ranking,
// confirms being 0. Veto and unknown strengths have no rank and return -1.
func (s Strength) Rank() int {
	switch s {
	case Confirms:
		return 0
	case Suggests:
		return 1
	case Inconclusive:
		return 2
	case SuggestsAgainst:
		return 3
	}
	return -1
}

// StrongerThan reports whether s ranks above o. Unranked strengths are never
// stronger than anything.
func (s Strength) StrongerThan(o Strength) bool {
	rs, ro := s.Rank(), o.Rank()
	if rs < 0 {
		return false
	}
	if ro < 0 {
		return true
	}
	return rs < ro
}

// Supports reports whether s argues for the failure mode.
func (s Strength) Supports() bool {
	return s == Confirms || s == Suggests
}

// Contradicts reports whether s argues against the failure mode.
func (s Strength) Contradicts() bool {
	return s == SuggestsAgainst || s == RulesOut
}

func (s Strength) String() string {
	if s == StrengthUnknown {
		return "unknown"
	}
	return string(s)
}
