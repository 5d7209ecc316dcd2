package truthtable

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/diagnostic"
)

// Outcome is one (failure mode, confidence) pair of a diagnosis.
type Outcome struct {
	FailureMode string          `json:"failure_mode" yaml:"failure_mode"`
	Confidence  common.Strength `json:"confidence" yaml:"confidence"`
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s (%s)", o.FailureMode, o.Confidence)
}

// Expectation is the registration format of one expected outcome.
type Expectation struct {
	Inputs   InputVector `json:"inputs"`
	Expected []Outcome   `json:"expected"`
}

// AmbiguousExpectationError is returned when a vector is registered twice
// with different expected sets.
type AmbiguousExpectationError struct {
	Inputs      InputVector `json:"inputs"`
	Existing    []Outcome   `json:"existing"`
	Conflicting []Outcome   `json:"conflicting"`
}

func (e *AmbiguousExpectationError) Error() string {
	return fmt.Sprintf("conflicting expectations for inputs %s: %v vs %v", e.Inputs.Key(), e.Existing, e.Conflicting)
}

// ExpectationSet holds registered expectations keyed by canonical vector.
// It is safe for concurrent use.
type ExpectationSet struct {
	mu    sync.RWMutex
	byKey map[string]Expectation
	order []string
}

func NewExpectationSet() *ExpectationSet {
	return &ExpectationSet{byKey: make(map[string]Expectation)}
}

// Register associates a vector with an expected outcome set. Registering
// an equal set again is a no-op.
func (s *ExpectationSet) Register(v InputVector, expected []Outcome) error {
	for _, o := range expected {
		if o.FailureMode == "" {
			return fmt.Errorf("expected outcome without failure mode")
		}
		if !o.Confidence.Valid() || o.Confidence.IsVeto() {
			return fmt.Errorf("invalid confidence %q for %s", o.Confidence, o.FailureMode)
		}
	}

	norm := v.Normalize()
	set := canonicalOutcomes(expected)
	key := norm.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[key]; ok {
		if slices.Equal(existing.Expected, set) {
			return nil
		}
		return &AmbiguousExpectationError{Inputs: norm, Existing: existing.Expected, Conflicting: set}
	}
	s.byKey[key] = Expectation{Inputs: norm, Expected: set}
	s.order = append(s.order, key)
	return nil
}

// RegisterAll registers a batch in order and stops at the first error.
func (s *ExpectationSet) RegisterAll(list []Expectation) error {
	for i, e := range list {
		if err := s.Register(e.Inputs, e.Expected); err != nil {
			return fmt.Errorf("expectation #%d: %w", i, err)
		}
	}
	return nil
}

// CheckNames verifies that every observation, sensor and failure mode an
// expectation names exists in g.
func CheckNames(g *common.Graph, list []Expectation) error {
	for i, e := range list {
		for _, name := range e.Inputs.Observations {
			if _, ok := g.Entity(common.KindObservation, name); !ok {
				return fmt.Errorf("expectation #%d: %w", i, &diagnostic.UnknownInputError{Kind: common.KindObservation, Name: name})
			}
		}
		for name := range e.Inputs.SensorValues {
			if _, ok := g.Entity(common.KindSensorReading, name); !ok {
				return fmt.Errorf("expectation #%d: %w", i, &diagnostic.UnknownInputError{Kind: common.KindSensorReading, Name: name})
			}
		}
		for _, o := range e.Expected {
			if _, ok := g.Entity(common.KindFailureMode, o.FailureMode); !ok {
				return fmt.Errorf("expectation #%d: %w", i, &diagnostic.UnknownInputError{Kind: common.KindFailureMode, Name: o.FailureMode})
			}
		}
	}
	return nil
}

// Lookup returns the expected set registered for v.
func (s *ExpectationSet) Lookup(v InputVector) ([]Outcome, bool) {
	if s == nil {
		return nil, false
	}
	key := v.Key()
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.Expected), true
}

// Len returns the number of registered vectors.
func (s *ExpectationSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns the registrations in the order they were first made.
func (s *ExpectationSet) All() []Expectation {
	if s == nil {
		return []Expectation{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Expectation, 0, len(s.order))
	for _, k := range s.order {
		e := s.byKey[k]
		e.Expected = slices.Clone(e.Expected)
		out = append(out, e)
	}
	return out
}

// canonicalOutcomes sorts and de-duplicates outcomes so sets compare with
// slices.Equal.
func canonicalOutcomes(in []Outcome) []Outcome {
	out := slices.Clone(in)
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureMode != out[j].FailureMode {
			return out[i].FailureMode < out[j].FailureMode
		}
		return out[i].Confidence < out[j].Confidence
	})
	out = slices.Compact(out)
	if out == nil {
		out = []Outcome{}
	}
	return out
}

// diffOutcomes returns the entries of actual missing from expected and the
// entries of expected missing from actual.
func diffOutcomes(actual, expected []Outcome) (unexpected, missing []Outcome) {
	unexpected, missing = []Outcome{}, []Outcome{}
	for _, a := range actual {
		if !slices.Contains(expected, a) {
			unexpected = append(unexpected, a)
		}
	}
	for _, e := range expected {
		if !slices.Contains(actual, e) {
			missing = append(missing, e)
		}
	}
	return unexpected, missing
}
