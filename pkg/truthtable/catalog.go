package truthtable

import (
	"github.com/except-pass/telltale/pkg/common"
)

// SensorCondition is one outgoing evidence edge of an in-play sensor.
type SensorCondition struct {
	RelationshipID string            `json:"relationship_id"`
	FailureMode    string            `json:"failure_mode"`
	Operator       common.Operator   `json:"operator"`
	Threshold      *common.Threshold `json:"threshold"`
}

// SensorInput describes an in-play sensor and the thresholds it is
// compared against.
type SensorInput struct {
	Name       string            `json:"name"`
	Unit       string            `json:"unit,omitempty"`
	Conditions []SensorCondition `json:"conditions"`
	// Thresholds holds every distinct threshold value in first-appearance
	// order. Set thresholds contribute each member.
	Thresholds []float64 `json:"thresholds"`
}

// Catalog lists the runtime inputs that take part in at least one
// EVIDENCE_FOR edge, in graph order.
type Catalog struct {
	Observations []string      `json:"observations"`
	Sensors      []SensorInput `json:"sensors"`

	observations map[string]struct{}
	sensors      map[string]int
}

// Scan builds the input catalog of a snapshot.
func Scan(g *common.Graph) *Catalog {
	c := &Catalog{
		Observations: []string{},
		Sensors:      []SensorInput{},
		observations: make(map[string]struct{}),
		sensors:      make(map[string]int),
	}

	for _, e := range g.Entities {
		rels := g.EvidenceFrom(e)
		if len(rels) == 0 {
			continue
		}
		switch e.Kind {
		case common.KindObservation:
			c.observations[e.Name] = struct{}{}
			c.Observations = append(c.Observations, e.Name)
		case common.KindSensorReading:
			c.sensors[e.Name] = len(c.Sensors)
			c.Sensors = append(c.Sensors, scanSensor(e, rels))
		}
	}
	return c
}

func scanSensor(e *common.Entity, rels []*common.Relationship) SensorInput {
	s := SensorInput{
		Name:       e.Name,
		Unit:       e.Unit,
		Conditions: make([]SensorCondition, 0, len(rels)),
		Thresholds: []float64{},
	}
	seen := make(map[float64]struct{})
	for _, rel := range rels {
		s.Conditions = append(s.Conditions, SensorCondition{
			RelationshipID: rel.ID,
			FailureMode:    rel.Target.Name,
			Operator:       rel.Evidence.Operator,
			Threshold:      rel.Evidence.Threshold,
		})
		for _, v := range rel.Evidence.Threshold.Values() {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			s.Thresholds = append(s.Thresholds, v)
		}
	}
	return s
}

// HasObservation reports whether name is an in-play observation.
func (c *Catalog) HasObservation(name string) bool {
	_, ok := c.observations[name]
	return ok
}

// Sensor looks up an in-play sensor.
func (c *Catalog) Sensor(name string) (SensorInput, bool) {
	idx, ok := c.sensors[name]
	if !ok {
		return SensorInput{}, false
	}
	return c.Sensors[idx], true
}

// SensorNames returns the in-play sensor names in graph order.
func (c *Catalog) SensorNames() []string {
	out := make([]string, len(c.Sensors))
	for i, s := range c.Sensors {
		out[i] = s.Name
	}
	return out
}
