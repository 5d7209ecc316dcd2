package loader

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/go-playground/validator"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gopkg.in/yaml.v3"
)

// GraphDocument is the authoring format of a diagnostic graph. Entities
// are referenced by name; Build resolves them into a snapshot.
type GraphDocument struct {
	ID                    string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name                  string           `json:"name,omitempty" yaml:"name,omitempty"`
	Description           string           `json:"description,omitempty" yaml:"description,omitempty"`
	FailureModes          []EntityDoc      `json:"failure_modes" yaml:"failure_modes" validate:"dive"`
	Observations          []EntityDoc      `json:"observations" yaml:"observations" validate:"dive"`
	SensorReadings        []SensorDoc      `json:"sensor_readings" yaml:"sensor_readings" validate:"dive"`
	CausesRelationships   []CausesDoc      `json:"causes_relationships,omitempty" yaml:"causes_relationships,omitempty" validate:"dive"`
	EvidenceRelationships []EvidenceDoc    `json:"evidence_relationships,omitempty" yaml:"evidence_relationships,omitempty" validate:"dive"`
	Expectations          []ExpectationDoc `json:"expectations,omitempty" yaml:"expectations,omitempty" validate:"dive"`
}

// EntityDoc describes a failure mode or an observation.
type EntityDoc struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SensorDoc describes a sensor reading.
type SensorDoc struct {
	ID                string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name              string            `json:"name" yaml:"name" validate:"required"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	Unit              string            `json:"unit,omitempty" yaml:"unit,omitempty"`
	ValueDescriptions ValueDescriptions `json:"value_descriptions,omitempty" yaml:"value_descriptions,omitempty"`
}

// CausesDoc links a failure mode to a symptom it produces.
type CausesDoc struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	FailureMode string `json:"failure_mode" yaml:"failure_mode" validate:"required"`
	Observation string `json:"observation" yaml:"observation" validate:"required"`
}

// EvidenceDoc is one EVIDENCE_FOR edge. Exactly one of Observation, Sensor
// and SourceFailureMode names the source.
type EvidenceDoc struct {
	ID                 string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name               string            `json:"name,omitempty" yaml:"name,omitempty"`
	Observation        string            `json:"observation,omitempty" yaml:"observation,omitempty"`
	Sensor             string            `json:"sensor,omitempty" yaml:"sensor,omitempty"`
	SourceFailureMode  string            `json:"source_failure_mode,omitempty" yaml:"source_failure_mode,omitempty"`
	FailureMode        string            `json:"failure_mode" yaml:"failure_mode" validate:"required"`
	WhenTrueStrength   string            `json:"when_true_strength,omitempty" yaml:"when_true_strength,omitempty" jsonschema:"enum=confirms,enum=suggests,enum=inconclusive,enum=suggests_against,enum=rules_out"`
	WhenFalseStrength  string            `json:"when_false_strength,omitempty" yaml:"when_false_strength,omitempty" jsonschema:"enum=confirms,enum=suggests,enum=inconclusive,enum=suggests_against,enum=rules_out"`
	Operator           common.Operator   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Threshold          *common.Threshold `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	WhenTrueRationale  string            `json:"when_true_rationale,omitempty" yaml:"when_true_rationale,omitempty"`
	WhenFalseRationale string            `json:"when_false_rationale,omitempty" yaml:"when_false_rationale,omitempty"`
}

// ValueDescriptions maps a formatted sensor value to a label. Documents may
// carry it as an object or as a JSON-encoded string.
type ValueDescriptions map[string]string

func (v *ValueDescriptions) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		return v.decodeString(encoded)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("value_descriptions must be an object or a JSON string: %w", err)
	}
	*v = m
	return nil
}

func (v *ValueDescriptions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return v.decodeString(node.Value)
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("value_descriptions must be a mapping or a JSON string: %w", err)
	}
	*v = m
	return nil
}

func (v *ValueDescriptions) decodeString(s string) error {
	if strings.TrimSpace(s) == "" {
		*v = nil
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return fmt.Errorf("failed to decode value_descriptions %q: %w", s, err)
	}
	*v = m
	return nil
}

// DocumentError lists the problems found in an authoring document.
type DocumentError struct {
	Problems []string
}

func (e *DocumentError) Error() string {
	return "invalid graph document: " + strings.Join(e.Problems, "; ")
}

var validate = validator.New()

// Validate checks required fields and the source rule of evidence edges.
func (d *GraphDocument) Validate() error {
	var problems []string
	if err := validate.Struct(d); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	for i, ev := range d.EvidenceRelationships {
		n := 0
		for _, s := range []string{ev.Observation, ev.Sensor, ev.SourceFailureMode} {
			if s != "" {
				n++
			}
		}
		if n != 1 {
			problems = append(problems, fmt.Sprintf(
				"evidence_relationships[%d] must name exactly one of observation, sensor or source_failure_mode", i,
			))
		}
	}
	if len(problems) > 0 {
		return &DocumentError{Problems: problems}
	}
	return nil
}

func newID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the system random source does.
		panic(fmt.Sprintf("failed to generate id: %v", err))
	}
	return id
}

// Build validates the document and resolves it into an immutable snapshot.
// Missing entity and graph ids are generated; missing relationship ids are
// derived from their position so warnings stay stable across loads.
func (d *GraphDocument) Build() (*common.Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	graphID := d.ID
	if graphID == "" {
		graphID = newID()
	}

	entities := make([]*common.Entity, 0, len(d.FailureModes)+len(d.Observations)+len(d.SensorReadings))
	byName := map[common.EntityKind]map[string]*common.Entity{
		common.KindFailureMode:   {},
		common.KindObservation:   {},
		common.KindSensorReading: {},
	}
	add := func(e *common.Entity) {
		if e.ID == "" {
			e.ID = newID()
		}
		entities = append(entities, e)
		if _, dup := byName[e.Kind][e.Name]; !dup {
			byName[e.Kind][e.Name] = e
		}
	}
	for _, fm := range d.FailureModes {
		add(&common.Entity{ID: fm.ID, Kind: common.KindFailureMode, Name: fm.Name, Description: fm.Description})
	}
	for _, o := range d.Observations {
		add(&common.Entity{ID: o.ID, Kind: common.KindObservation, Name: o.Name, Description: o.Description})
	}
	for _, s := range d.SensorReadings {
		add(&common.Entity{
			ID:                s.ID,
			Kind:              common.KindSensorReading,
			Name:              s.Name,
			Description:       s.Description,
			Unit:              s.Unit,
			ValueDescriptions: s.ValueDescriptions,
		})
	}

	var problems []string
	lookup := func(kind common.EntityKind, name, where string) *common.Entity {
		e, ok := byName[kind][name]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s references unknown %s %q", where, kind, name))
		}
		return e
	}

	rels := make([]*common.Relationship, 0, len(d.CausesRelationships)+len(d.EvidenceRelationships))
	for i, c := range d.CausesRelationships {
		where := fmt.Sprintf("causes_relationships[%d]", i)
		src := lookup(common.KindFailureMode, c.FailureMode, where)
		dst := lookup(common.KindObservation, c.Observation, where)
		if src == nil || dst == nil {
			continue
		}
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("causes-%d", i+1)
		}
		rels = append(rels, &common.Relationship{ID: id, Kind: common.RelCauses, Source: src, Target: dst})
	}

	for i, ev := range d.EvidenceRelationships {
		where := fmt.Sprintf("evidence_relationships[%d]", i)
		var src *common.Entity
		switch {
		case ev.Observation != "":
			src = lookup(common.KindObservation, ev.Observation, where)
		case ev.Sensor != "":
			src = lookup(common.KindSensorReading, ev.Sensor, where)
		default:
			src = lookup(common.KindFailureMode, ev.SourceFailureMode, where)
		}
		dst := lookup(common.KindFailureMode, ev.FailureMode, where)
		if src == nil || dst == nil {
			continue
		}
		id := ev.ID
		if id == "" {
			id = fmt.Sprintf("evidence-%d", i+1)
		}
		rels = append(rels, &common.Relationship{
			ID:          id,
			Kind:        common.RelEvidenceFor,
			Source:      src,
			Target:      dst,
			Description: ev.Name,
			Evidence: &common.Evidence{
				WhenTrue:           strengthOf(id, ev.WhenTrueStrength),
				WhenFalse:          strengthOf(id, ev.WhenFalseStrength),
				Operator:           ev.Operator,
				Threshold:          ev.Threshold,
				WhenTrueRationale:  ev.WhenTrueRationale,
				WhenFalseRationale: ev.WhenFalseRationale,
			},
		})
	}

	if len(problems) > 0 {
		return nil, &DocumentError{Problems: problems}
	}
	return common.NewGraph(graphID, entities, rels)
}

// strengthOf parses an authored strength. An unrecognised value is kept
// as written so the evaluator reports the edge instead of the whole
// document being rejected.
func strengthOf(relID, raw string) common.Strength {
	s, err := common.ParseStrength(raw)
	if err != nil {
		logger.Warn("[Loader] Keeping invalid strength for evaluation", "relationship_id", relID, "strength", raw)
		return common.Strength(strings.ToLower(strings.TrimSpace(raw)))
	}
	return s
}

// FromGraph converts a snapshot back into its authoring document.
func FromGraph(g *common.Graph) *GraphDocument {
	d := &GraphDocument{
		ID:             g.ID,
		FailureModes:   []EntityDoc{},
		Observations:   []EntityDoc{},
		SensorReadings: []SensorDoc{},
	}
	for _, e := range g.Entities {
		switch e.Kind {
		case common.KindFailureMode:
			d.FailureModes = append(d.FailureModes, EntityDoc{ID: e.ID, Name: e.Name, Description: e.Description})
		case common.KindObservation:
			d.Observations = append(d.Observations, EntityDoc{ID: e.ID, Name: e.Name, Description: e.Description})
		case common.KindSensorReading:
			d.SensorReadings = append(d.SensorReadings, SensorDoc{
				ID:                e.ID,
				Name:              e.Name,
				Description:       e.Description,
				Unit:              e.Unit,
				ValueDescriptions: e.ValueDescriptions,
			})
		}
	}
	for _, r := range g.Relationships {
		switch r.Kind {
		case common.RelCauses:
			d.CausesRelationships = append(d.CausesRelationships, CausesDoc{
				ID:          r.ID,
				FailureMode: r.Source.Name,
				Observation: r.Target.Name,
			})
		case common.RelEvidenceFor:
			ev := EvidenceDoc{
				ID:                 r.ID,
				Name:               r.Description,
				FailureMode:        r.Target.Name,
				WhenTrueStrength:   string(r.Evidence.WhenTrue),
				WhenFalseStrength:  string(r.Evidence.WhenFalse),
				Operator:           r.Evidence.Operator,
				Threshold:          r.Evidence.Threshold,
				WhenTrueRationale:  r.Evidence.WhenTrueRationale,
				WhenFalseRationale: r.Evidence.WhenFalseRationale,
			}
			switch r.Source.Kind {
			case common.KindObservation:
				ev.Observation = r.Source.Name
			case common.KindSensorReading:
				ev.Sensor = r.Source.Name
			case common.KindFailureMode:
				ev.SourceFailureMode = r.Source.Name
			}
			d.EvidenceRelationships = append(d.EvidenceRelationships, ev)
		}
	}
	return d
}
