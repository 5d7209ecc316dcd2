package common

import (
	"encoding/json"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
	}{
		{"==", OpEqual},
		{"=", OpEqual},
		{" < ", OpLess},
		{"IN", OpIn},
		{"!=", Operator("!=")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseOperator(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
	if Operator("!=").Valid() {
		t.Fatal("expected != to be invalid")
	}
}

func TestParseStrength(t *testing.T) {
	got, err := ParseStrength("Rules_Out")
	if err != nil || got != RulesOut {
		t.Fatalf("expected rules_out, got %q (%v)", got, err)
	}
	got, err = ParseStrength("null")
	if err != nil || got.Known() {
		t.Fatalf("expected unknown strength, got %q (%v)", got, err)
	}
	if _, err := ParseStrength("likely"); err == nil {
		t.Fatal("expected error for invalid strength")
	}
}

func TestStrength_Order(t *testing.T) {
	if !Confirms.StrongerThan(Suggests) || !Suggests.StrongerThan(Inconclusive) || !Inconclusive.StrongerThan(SuggestsAgainst) {
		t.Fatal("expected confirms > suggests > inconclusive > suggests_against")
	}
	if RulesOut.StrongerThan(SuggestsAgainst) || StrengthUnknown.StrongerThan(SuggestsAgainst) {
		t.Fatal("expected veto and unknown to be unranked")
	}
	if !SuggestsAgainst.StrongerThan(StrengthUnknown) {
		t.Fatal("expected any ranked strength to beat unknown")
	}
}

func TestThreshold_String(t *testing.T) {
	tests := []struct {
		name      string
		threshold *Threshold
		want      string
	}{
		{name: "nil", threshold: nil, want: "null"},
		{name: "empty", threshold: &Threshold{}, want: "null"},
		{name: "scalar", threshold: ScalarThreshold(4), want: "4"},
		{name: "set", threshold: SetThreshold(0, 2), want: "[0, 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.threshold.String(); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestThreshold_JSON(t *testing.T) {
	var ev Evidence
	if err := json.Unmarshal([]byte(`{"operator":"==","threshold":4.5}`), &ev); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ev.Operator != OpEqual {
		t.Fatalf("expected = operator, got %q", ev.Operator)
	}
	if v, ok := ev.Threshold.Scalar(); !ok || v != 4.5 {
		t.Fatalf("expected scalar 4.5, got %v", ev.Threshold)
	}

	ev = Evidence{}
	if err := json.Unmarshal([]byte(`{"operator":"in","threshold":[1, 2, "3"]}`), &ev); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !ev.Threshold.IsSet() || !reflect.DeepEqual(ev.Threshold.Values(), []float64{1, 2, 3}) {
		t.Fatalf("expected set [1 2 3], got %v", ev.Threshold)
	}
	if ev.Threshold.String() != "[1, 2, 3]" {
		t.Fatalf("expected [1, 2, 3], got %s", ev.Threshold.String())
	}

	out, err := json.Marshal(ev.Threshold)
	if err != nil || string(out) != "[1,2,3]" {
		t.Fatalf("expected [1,2,3], got %s (%v)", out, err)
	}

	ev = Evidence{}
	if err := json.Unmarshal([]byte(`{"operator":null,"threshold":null}`), &ev); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ev.Operator != OpNone || ev.Threshold != nil {
		t.Fatalf("expected empty operator and threshold, got %q %v", ev.Operator, ev.Threshold)
	}

	if err := json.Unmarshal([]byte(`{"threshold":"high"}`), &ev); err == nil {
		t.Fatal("expected error for non-numeric threshold")
	}
}

func TestThreshold_YAML(t *testing.T) {
	var ev Evidence
	doc := "operator: \">=\"\nthreshold: [0, 2]\n"
	if err := yaml.Unmarshal([]byte(doc), &ev); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ev.Operator != OpGreaterEqual {
		t.Fatalf("expected >=, got %q", ev.Operator)
	}
	if !ev.Threshold.IsSet() || !ev.Threshold.Contains(2) || ev.Threshold.Contains(1) {
		t.Fatalf("expected set {0, 2}, got %v", ev.Threshold)
	}
}
