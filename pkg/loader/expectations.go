package loader

import (
	"fmt"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/truthtable"
)

// OutcomeDoc is one expected (failure mode, confidence) pair.
type OutcomeDoc struct {
	FailureMode string `json:"failure_mode" yaml:"failure_mode" validate:"required"`
	Confidence  string `json:"confidence" yaml:"confidence" validate:"required,oneof=confirms suggests inconclusive suggests_against"`
}

// ExpectationDoc registers the expected outcome of one input vector. An
// empty Expected list means no candidate should survive.
type ExpectationDoc struct {
	Observations []string           `json:"observations" yaml:"observations"`
	SensorValues map[string]float64 `json:"sensor_values,omitempty" yaml:"sensor_values,omitempty"`
	Expected     []OutcomeDoc       `json:"expected" yaml:"expected" validate:"dive"`
}

// ExpectationsDocument is a standalone expectation file.
type ExpectationsDocument struct {
	GraphID      string           `json:"graph_id,omitempty" yaml:"graph_id,omitempty"`
	Expectations []ExpectationDoc `json:"expectations" yaml:"expectations" validate:"dive"`
}

// Validate checks every expectation entry.
func (d *ExpectationsDocument) Validate() error {
	if err := validate.Struct(d); err != nil {
		return &DocumentError{Problems: []string{err.Error()}}
	}
	return nil
}

// ToExpectations converts authored entries into truth-table registrations.
func ToExpectations(docs []ExpectationDoc) ([]truthtable.Expectation, error) {
	out := make([]truthtable.Expectation, 0, len(docs))
	for i, d := range docs {
		e := truthtable.Expectation{
			Inputs: truthtable.InputVector{
				Observations: d.Observations,
				SensorValues: d.SensorValues,
			}.Normalize(),
			Expected: make([]truthtable.Outcome, 0, len(d.Expected)),
		}
		for _, o := range d.Expected {
			s, err := common.ParseStrength(o.Confidence)
			if err != nil {
				return nil, fmt.Errorf("expectations[%d]: %w", i, err)
			}
			e.Expected = append(e.Expected, truthtable.Outcome{FailureMode: o.FailureMode, Confidence: s})
		}
		out = append(out, e)
	}
	return out, nil
}

// FromExpectations converts registrations back into their authoring form.
func FromExpectations(list []truthtable.Expectation) []ExpectationDoc {
	out := make([]ExpectationDoc, 0, len(list))
	for _, e := range list {
		d := ExpectationDoc{
			Observations: e.Inputs.Observations,
			SensorValues: e.Inputs.SensorValues,
			Expected:     make([]OutcomeDoc, 0, len(e.Expected)),
		}
		for _, o := range e.Expected {
			d.Expected = append(d.Expected, OutcomeDoc{FailureMode: o.FailureMode, Confidence: string(o.Confidence)})
		}
		out = append(out, d)
	}
	return out
}
