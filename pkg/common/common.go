package common

// EntityKind tags the variant of an Entity.
type EntityKind string

const (
	KindFailureMode   EntityKind = "FailureMode"
	KindObservation   EntityKind = "Observation"
	KindSensorReading EntityKind = "SensorReading"
)

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindFailureMode, KindObservation, KindSensorReading:
		return true
	}
	return false
}

// RelationshipKind tags the variant of a Relationship.
type RelationshipKind string

const (
	// RelCauses links a failure mode to a symptom it is expected to produce.
	// It is descriptive only and never used for ranking.
	RelCauses RelationshipKind = "CAUSES"
	// RelEvidenceFor links an observation, sensor reading or failure mode to
	// a failure mode and carries conditional strengths.
	RelEvidenceFor RelationshipKind = "EVIDENCE_FOR"
)

// Entity represents a node in the diagnostic graph. It is a closed variant
// over failure modes, observations and sensor readings which share a name
// and a description.
//
// Unit and ValueDescriptions are only meaningful for sensor readings. A
// runtime value is never stored on the entity; it is supplied per
// diagnostic call.
type Entity struct {
	ID                string            `json:"id"`
	Kind              EntityKind        `json:"kind"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Unit              string            `json:"unit,omitempty"`
	ValueDescriptions map[string]string `json:"value_descriptions,omitempty"`
}

// IsFailureMode reports whether the entity is a failure mode.
func (e *Entity) IsFailureMode() bool { return e != nil && e.Kind == KindFailureMode }

// IsObservation reports whether the entity is an observation.
func (e *Entity) IsObservation() bool { return e != nil && e.Kind == KindObservation }

// IsSensor reports whether the entity is a sensor reading.
func (e *Entity) IsSensor() bool { return e != nil && e.Kind == KindSensorReading }

// Evidence holds the conditional payload of an EVIDENCE_FOR relationship.
//
// An empty strength means the author left it unknown. Operator and
// Threshold are only used when the source is a sensor reading.
type Evidence struct {
	WhenTrue           Strength   `json:"when_true_strength,omitempty"`
	WhenFalse          Strength   `json:"when_false_strength,omitempty"`
	Operator           Operator   `json:"operator,omitempty"`
	Threshold          *Threshold `json:"threshold,omitempty"`
	WhenTrueRationale  string     `json:"when_true_rationale,omitempty"`
	WhenFalseRationale string     `json:"when_false_rationale,omitempty"`
}

// Relationship represents a directed edge between two entities in the
// graph. Endpoints are resolved entity pointers, never names.
type Relationship struct {
	ID          string           `json:"id"`
	Kind        RelationshipKind `json:"kind"`
	Source      *Entity          `json:"source"`
	Target      *Entity          `json:"target"`
	Description string           `json:"description,omitempty"`
	Evidence    *Evidence        `json:"evidence,omitempty"`
}

// IsEvidence reports whether the relationship is an EVIDENCE_FOR edge.
func (r *Relationship) IsEvidence() bool {
	return r != nil && r.Kind == RelEvidenceFor
}

// Strengths returns the when-true and when-false strengths of an evidence
// relationship. Both are unknown for any other relationship kind.
func (r *Relationship) Strengths() (Strength, Strength) {
	if !r.IsEvidence() || r.Evidence == nil {
		return StrengthUnknown, StrengthUnknown
	}
	return r.Evidence.WhenTrue, r.Evidence.WhenFalse
}
