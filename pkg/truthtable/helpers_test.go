package truthtable

import (
	"testing"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/diagnostic"
)

// speakerGraph has two in-play observations, one sensor and an observation
// without evidence edges.
func speakerGraph(t *testing.T) *common.Graph {
	t.Helper()
	noMusic := &common.Entity{ID: "o1", Kind: common.KindObservation, Name: "No Music"}
	muteIcon := &common.Entity{ID: "o2", Kind: common.KindObservation, Name: "Mute Icon"}
	unused := &common.Entity{ID: "o3", Kind: common.KindObservation, Name: "Unused"}
	volts := &common.Entity{ID: "s1", Kind: common.KindSensorReading, Name: "battery_voltage", Unit: "V"}
	battery := &common.Entity{ID: "f1", Kind: common.KindFailureMode, Name: "Dead Battery"}
	mute := &common.Entity{ID: "f2", Kind: common.KindFailureMode, Name: "Mute Mode"}

	g, err := common.NewGraph("speaker",
		[]*common.Entity{noMusic, muteIcon, unused, volts, battery, mute},
		[]*common.Relationship{
			{ID: "r1", Kind: common.RelEvidenceFor, Source: noMusic, Target: battery,
				Evidence: &common.Evidence{WhenTrue: common.Suggests, WhenFalse: common.RulesOut}},
			{ID: "r2", Kind: common.RelEvidenceFor, Source: volts, Target: battery,
				Evidence: &common.Evidence{WhenTrue: common.Confirms, WhenFalse: common.RulesOut,
					Operator: common.OpLess, Threshold: common.ScalarThreshold(4.0)}},
			{ID: "r3", Kind: common.RelEvidenceFor, Source: muteIcon, Target: mute,
				Evidence: &common.Evidence{WhenTrue: common.Confirms, WhenFalse: common.RulesOut}},
			{ID: "c1", Kind: common.RelCauses, Source: battery, Target: noMusic},
			{ID: "c2", Kind: common.RelCauses, Source: battery, Target: unused},
		},
	)
	if err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
	return g
}

func speakerTable(t *testing.T, opts Options) *Table {
	t.Helper()
	return New(diagnostic.NewEngine(speakerGraph(t)), opts)
}
