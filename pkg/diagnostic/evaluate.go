package diagnostic

import (
	"github.com/except-pass/telltale/pkg/common"
)

type valueKind uint8

const (
	valueUnknown valueKind = iota
	valueBool
	valueNumber
)

// Value is the runtime input for the source of one evidence edge: a
// boolean for observations and failure modes, a number for sensors, or
// unknown.
type Value struct {
	kind valueKind
	b    bool
	n    float64
}

// Unknown returns the "no data supplied" value.
func Unknown() Value { return Value{} }

// Bool returns a boolean runtime value.
func Bool(b bool) Value { return Value{kind: valueBool, b: b} }

// Number returns a numeric runtime value.
func Number(n float64) Value { return Value{kind: valueNumber, n: n} }

// IsKnown reports whether a value was supplied.
func (v Value) IsKnown() bool { return v.kind != valueUnknown }

// Condition is the outcome of testing an edge's condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionTrue    Condition = "true"
	ConditionFalse   Condition = "false"
)

// Assessment is the result of evaluating one evidence edge.
type Assessment struct {
	Condition Condition       `json:"condition"`
	Strength  common.Strength `json:"strength"`
}

// Known reports whether the assessment contributes a signal.
func (a Assessment) Known() bool {
	return a.Strength.Known()
}

var unknownAssessment = Assessment{Condition: ConditionUnknown}

// Evaluate decides which side of an EVIDENCE_FOR edge applies for the given
// runtime value and returns the resulting strength.
//
// A malformed edge yields an unknown assessment and a *ConfigurationError.
// An unknown value, or an applicable strength that is itself unknown,
// yields an unknown assessment and no error.
func Evaluate(rel *common.Relationship, v Value) (Assessment, error) {
	if err := checkEdge(rel); err != nil {
		return unknownAssessment, err
	}
	if !v.IsKnown() || rel.Evidence == nil {
		return unknownAssessment, nil
	}

	var holds bool
	if rel.Source.IsSensor() {
		if v.kind != valueNumber {
			return unknownAssessment, configError(rel, "sensor source needs a numeric value")
		}
		holds = sensorCondition(rel.Evidence, v.n)
	} else {
		if v.kind != valueBool {
			return unknownAssessment, configError(rel, "%s source needs a boolean value", rel.Source.Kind)
		}
		holds = v.b
	}

	if holds {
		return Assessment{Condition: ConditionTrue, Strength: rel.Evidence.WhenTrue}, nil
	}
	return Assessment{Condition: ConditionFalse, Strength: rel.Evidence.WhenFalse}, nil
}

func sensorCondition(ev *common.Evidence, value float64) bool {
	if ev.Operator == common.OpIn {
		return ev.Threshold.Contains(value)
	}
	threshold, _ := ev.Threshold.Scalar()
	return ev.Operator.Compare(value, threshold)
}

// checkEdge validates the configuration of an evidence edge independently
// of any runtime value.
func checkEdge(rel *common.Relationship) *ConfigurationError {
	if rel == nil {
		return configError(nil, "relationship is nil")
	}
	if !rel.IsEvidence() {
		return configError(rel, "relationship kind %s carries no evidence", rel.Kind)
	}
	if rel.Source == nil || rel.Target == nil {
		return configError(rel, "relationship endpoints are not resolved")
	}
	ev := rel.Evidence
	if ev == nil {
		ev = &common.Evidence{}
	}
	if ev.WhenTrue.Known() && !ev.WhenTrue.Valid() {
		return configError(rel, "invalid when_true_strength %q", string(ev.WhenTrue))
	}
	if ev.WhenFalse.Known() && !ev.WhenFalse.Valid() {
		return configError(rel, "invalid when_false_strength %q", string(ev.WhenFalse))
	}

	switch rel.Source.Kind {
	case common.KindSensorReading:
		if ev.Operator == common.OpNone {
			return configError(rel, "sensor evidence requires an operator")
		}
		if !ev.Operator.Valid() {
			return configError(rel, "unsupported operator %q", string(ev.Operator))
		}
		if ev.Threshold == nil {
			return configError(rel, "sensor evidence requires a threshold")
		}
		if ev.Operator == common.OpIn && !ev.Threshold.IsSet() {
			return configError(rel, "operator in requires a set threshold, got %s", ev.Threshold)
		}
		if ev.Operator != common.OpIn {
			if _, ok := ev.Threshold.Scalar(); !ok {
				return configError(rel, "operator %s requires a single number threshold, got %s", ev.Operator, ev.Threshold)
			}
		}
	case common.KindObservation, common.KindFailureMode:
		if ev.Operator != common.OpNone || ev.Threshold != nil {
			return configError(rel, "%s evidence must not carry an operator or threshold", rel.Source.Kind)
		}
	default:
		return configError(rel, "unsupported source kind %s", rel.Source.Kind)
	}
	return nil
}
