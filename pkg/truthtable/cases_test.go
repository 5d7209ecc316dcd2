package truthtable

import (
	"errors"
	"reflect"
	"testing"
)

func TestGenerate_BoundarySamples(t *testing.T) {
	cs, err := Generate(Scan(speakerGraph(t)), GenerateOptions{VarySensors: []string{"battery_voltage"}})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	samples := cs.Samples("battery_voltage")
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	if *samples[0] >= 4.0 || *samples[1] != 4.0 || *samples[2] <= 4.0 || samples[3] != nil {
		t.Fatalf("expected below, at, above and unknown, got %v %v %v %v", *samples[0], *samples[1], *samples[2], samples[3])
	}
	if cs.Len() != 4 {
		t.Fatalf("expected 4 cases, got %d", cs.Len())
	}
	if _, ok := cs.At(3).SensorValues["battery_voltage"]; ok {
		t.Fatal("expected last sample to leave the sensor unknown")
	}
}

func TestGenerate_FullProduct(t *testing.T) {
	cs, err := Generate(Scan(speakerGraph(t)), GenerateOptions{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cs.Len() != 16 {
		t.Fatalf("expected 2*2*4 cases, got %d", cs.Len())
	}

	first := cs.At(0)
	if len(first.Observations) != 0 || first.SensorValues["battery_voltage"] != 3.9 {
		t.Fatalf("expected all absent with the lowest sample, got %+v", first)
	}
	second := cs.At(1)
	if second.SensorValues["battery_voltage"] != 4 {
		t.Fatalf("expected the sensor to vary fastest, got %+v", second)
	}
	last := cs.At(15)
	if !reflect.DeepEqual(last.Observations, []string{"No Music", "Mute Icon"}) || len(last.SensorValues) != 0 {
		t.Fatalf("expected everything present and unknown sensor, got %+v", last)
	}

	seen := map[string]struct{}{}
	count := 0
	for i, v := range cs.All() {
		if i != count {
			t.Fatalf("expected index %d, got %d", count, i)
		}
		seen[v.Key()] = struct{}{}
		count++
	}
	if count != 16 || len(seen) != 16 {
		t.Fatalf("expected 16 distinct cases, got %d (%d distinct)", count, len(seen))
	}
}

func TestGenerate_FixedInputs(t *testing.T) {
	cs, err := Generate(Scan(speakerGraph(t)), GenerateOptions{
		VaryObservations:  []string{"Mute Icon"},
		FixedObservations: map[string]bool{"No Music": true},
		FixedSensorValues: map[string]float64{"battery_voltage": 3.5},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cs.Len() != 2 {
		t.Fatalf("expected 2 cases, got %d", cs.Len())
	}
	want := []InputVector{
		{Observations: []string{"No Music"}, SensorValues: map[string]float64{"battery_voltage": 3.5}},
		{Observations: []string{"No Music", "Mute Icon"}, SensorValues: map[string]float64{"battery_voltage": 3.5}},
	}
	for i, w := range want {
		if got := cs.At(i); !reflect.DeepEqual(got, w) {
			t.Fatalf("case %d: expected %+v, got %+v", i, w, got)
		}
	}
}

func TestGenerate_Errors(t *testing.T) {
	c := Scan(speakerGraph(t))
	tests := []struct {
		name string
		opts GenerateOptions
	}{
		{"unknown observation", GenerateOptions{VaryObservations: []string{"Smoke"}}},
		{"observation without evidence", GenerateOptions{VaryObservations: []string{"Unused"}}},
		{"unknown sensor", GenerateOptions{VarySensors: []string{"current"}}},
		{"unknown fixed sensor", GenerateOptions{FixedSensorValues: map[string]float64{"current": 1}}},
		{"varied and fixed", GenerateOptions{VaryObservations: []string{"No Music"}, FixedObservations: map[string]bool{"No Music": true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Generate(c, tt.opts); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}

	_, err := Generate(c, GenerateOptions{MaxCases: 10})
	if !errors.Is(err, ErrTooManyCases) {
		t.Fatalf("expected ErrTooManyCases, got %v", err)
	}
}

func TestSensorSamples_Dedupe(t *testing.T) {
	got := sensorSamples([]float64{1, 1.5}, 0.5)
	want := []sample{
		{value: 0.5, known: true},
		{value: 1, known: true},
		{value: 1.5, known: true},
		{value: 2, known: true},
		{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestSensorSamples_LargeThreshold(t *testing.T) {
	for _, threshold := range []float64{3e15, 1e16, -1e16} {
		got := sensorSamples([]float64{threshold}, DefaultDelta)
		if len(got) != 4 {
			t.Fatalf("expected 4 samples for %v, got %+v", threshold, got)
		}
		if !(got[0].value < threshold) || got[1].value != threshold || !(got[2].value > threshold) {
			t.Fatalf("expected samples strictly around %v, got %+v", threshold, got)
		}
		if got[3].known {
			t.Fatalf("expected trailing unknown sample, got %+v", got[3])
		}
	}
}

func TestInputVector_Key(t *testing.T) {
	a := InputVector{Observations: []string{"B", "A", "A"}, SensorValues: map[string]float64{"x": 1}}
	b := InputVector{Observations: []string{"A", "B"}, SensorValues: map[string]float64{"x": 1}}
	if a.Key() != b.Key() {
		t.Fatalf("expected equal keys, got %s and %s", a.Key(), b.Key())
	}
	c := InputVector{Observations: []string{"A", "B"}}
	if a.Key() == c.Key() {
		t.Fatal("expected an unknown sensor to change the key")
	}
	if (InputVector{}).Key() != (InputVector{Observations: []string{}, SensorValues: map[string]float64{}}).Key() {
		t.Fatal("expected nil and empty vectors to share a key")
	}
}
