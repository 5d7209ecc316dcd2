package diagnostic

import (
	"sort"

	"github.com/except-pass/telltale/pkg/common"
)

// SuggestedCheck is one decisive edge behind a test suggestion.
type SuggestedCheck struct {
	FailureMode    string            `json:"failure_mode"`
	RelationshipID string            `json:"relationship_id"`
	Operator       common.Operator   `json:"operator,omitempty"`
	Threshold      *common.Threshold `json:"threshold,omitempty"`
	StrengthIfTrue common.Strength   `json:"strength_if_true"`
}

// TestSuggestion names an observation or sensor worth checking next.
type TestSuggestion struct {
	Entity              string            `json:"entity"`
	Kind                common.EntityKind `json:"kind"`
	StrengthIfTriggered common.Strength   `json:"strength_if_triggered"`
	Candidates          []string          `json:"candidate_failure_modes"`
	Checks              []SuggestedCheck  `json:"checks"`

	order int
}

// RecommendNextTests proposes unsupplied observations and sensors whose
// evidence would settle a surviving candidate on its own.
//
// Only edges whose when-true strength is confirms or rules_out are
// considered. Suggestions are grouped per source entity; vetoing
// suggestions come first, then the ones helping with more candidates, then
// authoring order.
func (e *Engine) RecommendNextTests(in Inputs) ([]TestSuggestion, error) {
	r, verdicts, _, err := e.assess(in)
	if err != nil {
		return nil, err
	}

	bySource := make(map[*common.Entity]*TestSuggestion)
	var suggestions []*TestSuggestion

	for _, v := range verdicts {
		if !v.survives() {
			continue
		}
		for _, res := range v.results {
			rel := res.rel
			src := rel.Source
			if !src.IsObservation() && !src.IsSensor() {
				continue
			}
			if r.supplied(src) {
				continue
			}
			if checkEdge(rel) != nil {
				continue
			}
			whenTrue := rel.Evidence.WhenTrue
			if !whenTrue.Decisive() {
				continue
			}

			s, ok := bySource[src]
			if !ok {
				s = &TestSuggestion{
					Entity:              src.Name,
					Kind:                src.Kind,
					StrengthIfTriggered: whenTrue,
					order:               e.graph.Order(src),
				}
				bySource[src] = s
				suggestions = append(suggestions, s)
			}
			if whenTrue.IsVeto() {
				s.StrengthIfTriggered = common.RulesOut
			}
			if !containsString(s.Candidates, v.fm.Name) {
				s.Candidates = append(s.Candidates, v.fm.Name)
			}
			s.Checks = append(s.Checks, SuggestedCheck{
				FailureMode:    v.fm.Name,
				RelationshipID: rel.ID,
				Operator:       rel.Evidence.Operator,
				Threshold:      rel.Evidence.Threshold,
				StrengthIfTrue: whenTrue,
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.StrengthIfTriggered.IsVeto() != b.StrengthIfTriggered.IsVeto() {
			return a.StrengthIfTriggered.IsVeto()
		}
		if len(a.Candidates) != len(b.Candidates) {
			return len(a.Candidates) > len(b.Candidates)
		}
		return a.order < b.order
	})

	out := make([]TestSuggestion, len(suggestions))
	for i, s := range suggestions {
		out[i] = *s
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
