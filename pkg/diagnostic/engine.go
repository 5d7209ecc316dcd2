package diagnostic

import (
	"sort"

	"github.com/except-pass/telltale/pkg/common"
)

// ObservationState is the runtime state of an observation.
type ObservationState string

const (
	StateUnknown ObservationState = "unknown"
	StatePresent ObservationState = "present"
	StateAbsent  ObservationState = "absent"
)

// Valid reports whether s is one of the three states. The empty state
// counts as unknown.
func (s ObservationState) Valid() bool {
	switch s {
	case "", StateUnknown, StatePresent, StateAbsent:
		return true
	}
	return false
}

// Inputs is the runtime-input vector of one diagnostic call.
//
// A missing or "unknown" observation, and a missing or null sensor value,
// mean no data was supplied for that entity.
type Inputs struct {
	Observations          map[string]ObservationState `json:"observation_states"`
	SensorValues          map[string]*float64         `json:"sensor_values"`
	ConfirmedFailureModes []string                    `json:"confirmed_failure_modes"`
}

// Reading returns a pointer to v for use in Inputs.SensorValues.
func Reading(v float64) *float64 {
	return &v
}

// EvidenceItem is one contributing edge in an explanation trail.
type EvidenceItem struct {
	Entity         string            `json:"entity"`
	Kind           common.EntityKind `json:"kind"`
	RelationshipID string            `json:"relationship_id"`
	Strength       common.Strength   `json:"strength"`
}

// ExpectedObservation is an observation a failure mode would produce,
// traced through a CAUSES edge, with its current runtime state.
type ExpectedObservation struct {
	Observation    string           `json:"observation"`
	RelationshipID string           `json:"relationship_id"`
	State          ObservationState `json:"state"`
}

// Candidate is a surviving failure mode in a diagnosis.
type Candidate struct {
	FailureMode          string                `json:"failure_mode"`
	StrongestSignal      common.Strength       `json:"strongest_signal"`
	Evidence             []EvidenceItem        `json:"evidence"`
	ExpectedObservations []ExpectedObservation `json:"expected_observations,omitempty"`
}

// Diagnosis is the ranked result of one diagnostic call.
type Diagnosis struct {
	Candidates []Candidate           `json:"candidates"`
	RuledOut   []string              `json:"ruled_out"`
	Warnings   []*ConfigurationError `json:"warnings"`
}

// Engine evaluates runtime inputs against one immutable graph snapshot.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	graph *common.Graph
}

// NewEngine creates an engine bound to a snapshot.
func NewEngine(g *common.Graph) *Engine {
	return &Engine{graph: g}
}

// Graph returns the snapshot the engine reads.
func (e *Engine) Graph() *common.Graph {
	return e.graph
}

// edgeResult is the evaluation of one evidence edge into a failure mode.
type edgeResult struct {
	rel        *common.Relationship
	value      Value
	assessment Assessment
}

// verdict collects the evaluated evidence of one failure mode.
type verdict struct {
	fm        *common.Entity
	results   []edgeResult
	vetoed    bool
	strongest common.Strength
}

func (v *verdict) contributing() []edgeResult {
	var out []edgeResult
	for _, r := range v.results {
		if r.assessment.Known() {
			out = append(out, r)
		}
	}
	return out
}

func (v *verdict) survives() bool {
	return !v.vetoed && v.strongest.Known()
}

// resolved is a validated view over one Inputs value.
type resolved struct {
	observations map[string]ObservationState
	sensors      map[string]*float64
	confirmed    map[string]struct{}
}

func (r *resolved) valueFor(src *common.Entity) Value {
	switch src.Kind {
	case common.KindObservation:
		switch r.observations[src.Name] {
		case StatePresent:
			return Bool(true)
		case StateAbsent:
			return Bool(false)
		}
	case common.KindSensorReading:
		if v := r.sensors[src.Name]; v != nil {
			return Number(*v)
		}
	case common.KindFailureMode:
		_, ok := r.confirmed[src.Name]
		return Bool(ok)
	}
	return Unknown()
}

func (r *resolved) supplied(src *common.Entity) bool {
	switch src.Kind {
	case common.KindObservation:
		s := r.observations[src.Name]
		return s == StatePresent || s == StateAbsent
	case common.KindSensorReading:
		return r.sensors[src.Name] != nil
	}
	return true
}

func (e *Engine) resolve(in Inputs) (*resolved, error) {
	r := &resolved{
		observations: make(map[string]ObservationState, len(in.Observations)),
		sensors:      make(map[string]*float64, len(in.SensorValues)),
		confirmed:    make(map[string]struct{}, len(in.ConfirmedFailureModes)),
	}

	for _, name := range sortedKeys(in.Observations) {
		if _, ok := e.graph.Entity(common.KindObservation, name); !ok {
			return nil, &UnknownInputError{Kind: common.KindObservation, Name: name}
		}
		state := in.Observations[name]
		if !state.Valid() {
			return nil, &InvalidStateError{Observation: name, State: state}
		}
		r.observations[name] = state
	}
	for _, name := range sortedKeys(in.SensorValues) {
		if _, ok := e.graph.Entity(common.KindSensorReading, name); !ok {
			return nil, &UnknownInputError{Kind: common.KindSensorReading, Name: name}
		}
		r.sensors[name] = in.SensorValues[name]
	}
	for _, name := range in.ConfirmedFailureModes {
		if _, ok := e.graph.Entity(common.KindFailureMode, name); !ok {
			return nil, &UnknownInputError{Kind: common.KindFailureMode, Name: name}
		}
		r.confirmed[name] = struct{}{}
	}
	return r, nil
}

// assess evaluates every evidence edge of every failure mode and applies
// the veto and combination rules.
func (e *Engine) assess(in Inputs) (*resolved, []*verdict, []*ConfigurationError, error) {
	r, err := e.resolve(in)
	if err != nil {
		return nil, nil, nil, err
	}

	var warnings []*ConfigurationError
	fms := e.graph.FailureModes()
	verdicts := make([]*verdict, 0, len(fms))

	for _, fm := range fms {
		v := &verdict{fm: fm}
		for _, rel := range e.graph.EvidenceFor(fm) {
			value := r.valueFor(rel.Source)
			a, err := Evaluate(rel, value)
			if err != nil {
				if ce, ok := err.(*ConfigurationError); ok {
					warnings = append(warnings, ce)
				}
			}
			v.results = append(v.results, edgeResult{rel: rel, value: value, assessment: a})
			if !a.Known() {
				continue
			}
			if a.Strength.IsVeto() {
				v.vetoed = true
				continue
			}
			if !v.strongest.Known() || a.Strength.StrongerThan(v.strongest) {
				v.strongest = a.Strength
			}
		}
		verdicts = append(verdicts, v)
	}

	return r, verdicts, warnings, nil
}

// Diagnose filters and ranks failure modes for the given runtime inputs.
//
// A failure mode with any rules_out contribution is excluded. A failure
// mode without any contribution is excluded as well. Survivors are ordered
// by their strongest signal, confirms first, ties in authoring order.
func (e *Engine) Diagnose(in Inputs) (*Diagnosis, error) {
	r, verdicts, warnings, err := e.assess(in)
	if err != nil {
		return nil, err
	}

	d := &Diagnosis{
		Candidates: []Candidate{},
		RuledOut:   []string{},
		Warnings:   warnings,
	}
	if d.Warnings == nil {
		d.Warnings = []*ConfigurationError{}
	}

	for _, v := range verdicts {
		if v.vetoed {
			d.RuledOut = append(d.RuledOut, v.fm.Name)
			continue
		}
		if !v.survives() {
			continue
		}

		contributing := v.contributing()
		trail := make([]EvidenceItem, 0, len(contributing))
		for _, c := range contributing {
			trail = append(trail, EvidenceItem{
				Entity:         c.rel.Source.Name,
				Kind:           c.rel.Source.Kind,
				RelationshipID: c.rel.ID,
				Strength:       c.assessment.Strength,
			})
		}

		d.Candidates = append(d.Candidates, Candidate{
			FailureMode:          v.fm.Name,
			StrongestSignal:      v.strongest,
			Evidence:             trail,
			ExpectedObservations: e.expectedObservations(v.fm, r),
		})
	}

	sort.SliceStable(d.Candidates, func(i, j int) bool {
		return d.Candidates[i].StrongestSignal.Rank() < d.Candidates[j].StrongestSignal.Rank()
	})

	return d, nil
}

func (e *Engine) expectedObservations(fm *common.Entity, r *resolved) []ExpectedObservation {
	causes := e.graph.Causes(fm)
	if len(causes) == 0 {
		return nil
	}
	out := make([]ExpectedObservation, 0, len(causes))
	for _, rel := range causes {
		state := r.observations[rel.Target.Name]
		if state != StatePresent && state != StateAbsent {
			state = StateUnknown
		}
		out = append(out, ExpectedObservation{
			Observation:    rel.Target.Name,
			RelationshipID: rel.ID,
			State:          state,
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
