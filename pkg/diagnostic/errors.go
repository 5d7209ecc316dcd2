package diagnostic

import (
	"fmt"

	"github.com/except-pass/telltale/pkg/common"
)

// ConfigurationError describes a malformed evidence edge. It is never fatal:
// the edge is skipped and the error is returned as a warning alongside the
// diagnosis.
type ConfigurationError struct {
	RelationshipID string `json:"relationship_id"`
	Source         string `json:"source"`
	Target         string `json:"target"`
	Reason         string `json:"reason"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("relationship %s (%s -> %s): %s", e.RelationshipID, e.Source, e.Target, e.Reason)
}

func configError(rel *common.Relationship, format string, args ...any) *ConfigurationError {
	ce := &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
	if rel == nil {
		return ce
	}
	ce.RelationshipID = rel.ID
	if rel.Source != nil {
		ce.Source = rel.Source.Name
	}
	if rel.Target != nil {
		ce.Target = rel.Target.Name
	}
	return ce
}

// UnknownInputError is returned when a runtime input names an entity that is
// not part of the snapshot. It is fatal to the call that received it.
type UnknownInputError struct {
	Kind common.EntityKind `json:"kind"`
	Name string            `json:"name"`
}

func (e *UnknownInputError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

// InvalidStateError is returned when an observation is given a state other
// than present, absent or unknown.
type InvalidStateError struct {
	Observation string           `json:"observation"`
	State       ObservationState `json:"state"`
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %q for observation %q (present, absent, unknown)", string(e.State), e.Observation)
}
