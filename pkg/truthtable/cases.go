package truthtable

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"

	"github.com/except-pass/telltale/pkg/diagnostic"
)

// DefaultDelta is the distance between a threshold and the samples taken
// just below and just above it.
const DefaultDelta = 0.1

// ErrTooManyCases is returned when the requested product exceeds the
// configured case limit.
var ErrTooManyCases = errors.New("truth table too large")

// InputVector is one runtime-input combination. Observations lists the
// present observations; every other in-play observation is absent. Sensors
// missing from SensorValues are unknown.
type InputVector struct {
	Observations []string           `json:"observations"`
	SensorValues map[string]float64 `json:"sensor_values"`
}

// Normalize returns a copy with sorted, de-duplicated observations and a
// non-nil sensor map.
func (v InputVector) Normalize() InputVector {
	obs := slices.Clone(v.Observations)
	sort.Strings(obs)
	obs = slices.Compact(obs)
	if obs == nil {
		obs = []string{}
	}
	sensors := make(map[string]float64, len(v.SensorValues))
	for k, val := range v.SensorValues {
		sensors[k] = val
	}
	return InputVector{Observations: obs, SensorValues: sensors}
}

// Key returns the canonical identity of the vector. Two vectors with the
// same present observations and sensor readings share a key regardless of
// ordering.
func (v InputVector) Key() string {
	b, err := json.Marshal(v.Normalize())
	if err != nil {
		return fmt.Sprintf("%v", v.Normalize())
	}
	return string(b)
}

// Present reports whether an observation is listed as present.
func (v InputVector) Present(name string) bool {
	return slices.Contains(v.Observations, name)
}

// Inputs converts the vector into engine inputs. Catalog observations that
// are not listed become explicitly absent.
func (v InputVector) Inputs(c *Catalog) diagnostic.Inputs {
	in := diagnostic.Inputs{
		Observations: make(map[string]diagnostic.ObservationState),
		SensorValues: make(map[string]*float64, len(v.SensorValues)),
	}
	if c != nil {
		for _, name := range c.Observations {
			in.Observations[name] = diagnostic.StateAbsent
		}
	}
	for _, name := range v.Observations {
		in.Observations[name] = diagnostic.StatePresent
	}
	for name, val := range v.SensorValues {
		in.SensorValues[name] = diagnostic.Reading(val)
	}
	return in
}

// Absent lists the catalog observations the vector treats as absent.
func (v InputVector) Absent(c *Catalog) []string {
	out := []string{}
	if c == nil {
		return out
	}
	for _, name := range c.Observations {
		if !v.Present(name) {
			out = append(out, name)
		}
	}
	return out
}

// Cases is a finite, restartable sequence of input vectors.
type Cases interface {
	Len() int
	At(i int) InputVector
}

// CaseList is an explicit, caller-supplied subset of cases.
type CaseList []InputVector

func (l CaseList) Len() int             { return len(l) }
func (l CaseList) At(i int) InputVector { return l[i] }

// GenerateOptions narrows the generated product. With every field empty
// all in-play observations and sensors are varied.
type GenerateOptions struct {
	VaryObservations  []string           `json:"vary_observations,omitempty"`
	FixedObservations map[string]bool    `json:"fixed_observations,omitempty"`
	VarySensors       []string           `json:"vary_sensors,omitempty"`
	FixedSensorValues map[string]float64 `json:"fixed_sensor_values,omitempty"`
	Delta             float64            `json:"delta,omitempty"`
	// MaxCases rejects products larger than this when positive.
	MaxCases int `json:"max_cases,omitempty"`
}

func (o GenerateOptions) empty() bool {
	return len(o.VaryObservations) == 0 && len(o.FixedObservations) == 0 &&
		len(o.VarySensors) == 0 && len(o.FixedSensorValues) == 0
}

// sample is one value of a varied input. For observations known means
// present.
type sample struct {
	value float64
	known bool
}

type dimension struct {
	name    string
	sensor  bool
	samples []sample
}

// CaseSet is the Cartesian product of the varied inputs, indexed without
// materialising it. The last dimension varies fastest.
type CaseSet struct {
	dims          []dimension
	fixedPresent  []string
	fixedReadings map[string]float64
	total         int
}

// Generate builds the case set for a catalog.
func Generate(c *Catalog, opts GenerateOptions) (*CaseSet, error) {
	delta := opts.Delta
	if delta <= 0 {
		delta = DefaultDelta
	}

	varyObs, varySensors := opts.VaryObservations, opts.VarySensors
	if opts.empty() {
		varyObs = c.Observations
		varySensors = c.SensorNames()
	}

	cs := &CaseSet{fixedReadings: map[string]float64{}, total: 1}
	seen := map[string]struct{}{}

	for _, name := range varyObs {
		if !c.HasObservation(name) {
			return nil, fmt.Errorf("observation %q is not in play", name)
		}
		if _, dup := seen["o:"+name]; dup {
			continue
		}
		seen["o:"+name] = struct{}{}
		cs.dims = append(cs.dims, dimension{
			name:    name,
			samples: []sample{{known: false}, {known: true}},
		})
	}
	for _, name := range sortedKeys(opts.FixedObservations) {
		if !c.HasObservation(name) {
			return nil, fmt.Errorf("observation %q is not in play", name)
		}
		if _, varied := seen["o:"+name]; varied {
			return nil, fmt.Errorf("observation %q is both varied and fixed", name)
		}
		if opts.FixedObservations[name] {
			cs.fixedPresent = append(cs.fixedPresent, name)
		}
	}

	for _, name := range varySensors {
		s, ok := c.Sensor(name)
		if !ok {
			return nil, fmt.Errorf("sensor %q is not in play", name)
		}
		if _, dup := seen["s:"+name]; dup {
			continue
		}
		seen["s:"+name] = struct{}{}
		cs.dims = append(cs.dims, dimension{
			name:    name,
			sensor:  true,
			samples: sensorSamples(s.Thresholds, delta),
		})
	}
	for name, v := range opts.FixedSensorValues {
		if _, ok := c.Sensor(name); !ok {
			return nil, fmt.Errorf("sensor %q is not in play", name)
		}
		if _, varied := seen["s:"+name]; varied {
			return nil, fmt.Errorf("sensor %q is both varied and fixed", name)
		}
		cs.fixedReadings[name] = v
	}

	for _, d := range cs.dims {
		n := len(d.samples)
		if cs.total > math.MaxInt/n {
			return nil, fmt.Errorf("%w: product overflows", ErrTooManyCases)
		}
		cs.total *= n
	}
	if opts.MaxCases > 0 && cs.total > opts.MaxCases {
		return nil, fmt.Errorf("%w: %d cases exceed the limit of %d", ErrTooManyCases, cs.total, opts.MaxCases)
	}
	return cs, nil
}

// sensorSamples returns below, at and above each threshold, de-duplicated,
// followed by the unknown sample.
func sensorSamples(thresholds []float64, delta float64) []sample {
	out := make([]sample, 0, len(thresholds)*3+1)
	seen := make(map[float64]struct{}, len(thresholds)*3)
	for _, t := range thresholds {
		below, above := t-delta, t+delta
		// delta vanishes next to large thresholds
		if below >= t {
			below = math.Nextafter(t, math.Inf(-1))
		}
		if above <= t {
			above = math.Nextafter(t, math.Inf(1))
		}
		for _, v := range []float64{below, t, above} {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, sample{value: v, known: true})
		}
	}
	return append(out, sample{})
}

// Len returns the number of cases.
func (cs *CaseSet) Len() int { return cs.total }

// At returns case i, 0 <= i < Len.
func (cs *CaseSet) At(i int) InputVector {
	if i < 0 || i >= cs.total {
		panic(fmt.Sprintf("truthtable: case index %d out of range [0, %d)", i, cs.total))
	}
	v := InputVector{
		Observations: slices.Clone(cs.fixedPresent),
		SensorValues: make(map[string]float64, len(cs.fixedReadings)),
	}
	for k, val := range cs.fixedReadings {
		v.SensorValues[k] = val
	}

	rest := i
	picks := make([]int, len(cs.dims))
	for d := len(cs.dims) - 1; d >= 0; d-- {
		n := len(cs.dims[d].samples)
		picks[d] = rest % n
		rest /= n
	}
	for d, dim := range cs.dims {
		s := dim.samples[picks[d]]
		if !s.known {
			continue
		}
		if dim.sensor {
			v.SensorValues[dim.name] = s.value
		} else {
			v.Observations = append(v.Observations, dim.name)
		}
	}
	if v.Observations == nil {
		v.Observations = []string{}
	}
	return v
}

// All iterates the cases in index order. It can be called repeatedly.
func (cs *CaseSet) All() iter.Seq2[int, InputVector] {
	return func(yield func(int, InputVector) bool) {
		for i := 0; i < cs.total; i++ {
			if !yield(i, cs.At(i)) {
				return
			}
		}
	}
}

// Samples returns the sampled values of a varied sensor, nil for unknown.
func (cs *CaseSet) Samples(sensor string) []*float64 {
	for _, d := range cs.dims {
		if !d.sensor || d.name != sensor {
			continue
		}
		out := make([]*float64, len(d.samples))
		for i, s := range d.samples {
			if s.known {
				out[i] = diagnostic.Reading(s.value)
			}
		}
		return out
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
