package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator compares a sensor value against an edge threshold.
type Operator string

const (
	OpNone         Operator = ""
	OpEqual        Operator = "="
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "in"
)

// ParseOperator normalises an authored operator. "==" is accepted as an
// alias of "=". Unrecognised operators are returned unchanged so they can
// be reported against the edge that carries them.
func ParseOperator(s string) Operator {
	v := strings.TrimSpace(s)
	switch strings.ToLower(v) {
	case "==":
		return OpEqual
	case "in":
		return OpIn
	}
	return Operator(v)
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpLess, OpGreater, OpLessEqual, OpGreaterEqual, OpIn:
		return true
	}
	return false
}

// Compare applies a scalar operator. It reports false for OpIn and unknown
// operators; callers validate first.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpEqual:
		return value == threshold
	case OpLess:
		return value < threshold
	case OpGreater:
		return value > threshold
	case OpLessEqual:
		return value <= threshold
	case OpGreaterEqual:
		return value >= threshold
	}
	return false
}

// Phrase returns the English wording of the operator, e.g. "is less than".
func (o Operator) Phrase() string {
	switch o {
	case OpEqual:
		return "equals"
	case OpLess:
		return "is less than"
	case OpGreater:
		return "is greater than"
	case OpLessEqual:
		return "is at most"
	case OpGreaterEqual:
		return "is at least"
	case OpIn:
		return "is one of"
	}
	return string(o)
}

// NegatedPhrase returns the wording used when the comparison does not hold.
func (o Operator) NegatedPhrase() string {
	switch o {
	case OpEqual:
		return "does NOT equal"
	case OpLess:
		return "is NOT less than"
	case OpGreater:
		return "is NOT greater than"
	case OpLessEqual:
		return "is NOT at most"
	case OpGreaterEqual:
		return "is NOT at least"
	case OpIn:
		return "is NOT one of"
	}
	return "does not satisfy " + string(o)
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse operator: %w", err)
	}
	if s == nil {
		*o = OpNone
		return nil
	}
	*o = ParseOperator(*s)
	return nil
}

func (o *Operator) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*o = OpNone
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("failed to parse operator: %w", err)
	}
	*o = ParseOperator(s)
	return nil
}

// Threshold is the comparison target of a sensor edge: either a single
// number or, for the "in" operator, a set of numbers.
type Threshold struct {
	values []float64
	set    bool
}

// ScalarThreshold returns a single-number threshold.
func ScalarThreshold(v float64) *Threshold {
	return &Threshold{values: []float64{v}}
}

// SetThreshold returns a membership threshold.
func SetThreshold(vs ...float64) *Threshold {
	cp := make([]float64, len(vs))
	copy(cp, vs)
	return &Threshold{values: cp, set: true}
}

// IsSet reports whether the threshold is a membership set.
func (t *Threshold) IsSet() bool {
	return t != nil && t.set
}

// Scalar returns the single value of a scalar threshold.
func (t *Threshold) Scalar() (float64, bool) {
	if t == nil || t.set || len(t.values) != 1 {
		return 0, false
	}
	return t.values[0], true
}

// Values returns every number the threshold mentions, in authored order.
func (t *Threshold) Values() []float64 {
	if t == nil {
		return nil
	}
	out := make([]float64, len(t.values))
	copy(out, t.values)
	return out
}

// Contains reports set membership using exact equality.
func (t *Threshold) Contains(v float64) bool {
	if t == nil {
		return false
	}
	for _, m := range t.values {
		if m == v {
			return true
		}
	}
	return false
}

func (t *Threshold) String() string {
	if t == nil || (!t.set && len(t.values) == 0) {
		return "null"
	}
	if !t.set {
		return FormatNumber(t.values[0])
	}
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = FormatNumber(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (t Threshold) MarshalJSON() ([]byte, error) {
	if t.set {
		if t.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(t.values)
	}
	if len(t.values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(t.values[0])
}

func (t *Threshold) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse threshold: %w", err)
	}
	parsed, err := thresholdFrom(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to parse threshold: %w", err)
	}
	parsed, err := thresholdFrom(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func thresholdFrom(raw any) (Threshold, error) {
	switch v := raw.(type) {
	case []any:
		values := make([]float64, 0, len(v))
		for _, item := range v {
			f, err := toNumber(item)
			if err != nil {
				return Threshold{}, fmt.Errorf("invalid threshold member: %w", err)
			}
			values = append(values, f)
		}
		return Threshold{values: values, set: true}, nil
	default:
		f, err := toNumber(v)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid threshold: %w", err)
		}
		return Threshold{values: []float64{f}}, nil
	}
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

// FormatNumber renders a float the way thresholds and readings are shown to
// users: shortest representation, no trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
