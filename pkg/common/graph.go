package common

import (
	"fmt"
	"strings"
)

// Graph is an immutable snapshot of the diagnostic graph used for one
// evaluation session. It keeps entities and relationships in authoring
// order, which is what ties are broken by.
//
// A Graph is never mutated after NewGraph returns, so any number of
// goroutines may read it concurrently.
type Graph struct {
	ID            string          `json:"id"`
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`

	byName   map[EntityKind]map[string]*Entity
	order    map[*Entity]int
	incoming map[*Entity][]*Relationship
	outgoing map[*Entity][]*Relationship
}

// GraphError reports a structural problem found while building a snapshot.
type GraphError struct {
	Problems []string
}

func (e *GraphError) Error() string {
	return "invalid graph: " + strings.Join(e.Problems, "; ")
}

// NewGraph validates the structural invariants of a snapshot and indexes
// it. Entity names must be unique per kind, relationship ids must be
// unique and non-empty, endpoints must belong to the snapshot and edge
// kinds must connect the right entity kinds.
//
// Configuration problems of individual evidence edges (missing operator or
// threshold) are not rejected here; the evaluator reports them per edge.
func NewGraph(id string, entities []*Entity, relationships []*Relationship) (*Graph, error) {
	g := &Graph{
		ID:            id,
		Entities:      entities,
		Relationships: relationships,
		byName: map[EntityKind]map[string]*Entity{
			KindFailureMode:   {},
			KindObservation:   {},
			KindSensorReading: {},
		},
		order:    make(map[*Entity]int, len(entities)),
		incoming: make(map[*Entity][]*Relationship),
		outgoing: make(map[*Entity][]*Relationship),
	}

	var problems []string

	for idx, e := range entities {
		if e == nil {
			problems = append(problems, fmt.Sprintf("entity #%d is nil", idx))
			continue
		}
		if !e.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("entity %q has unknown kind %q", e.Name, e.Kind))
			continue
		}
		if strings.TrimSpace(e.Name) == "" {
			problems = append(problems, fmt.Sprintf("entity #%d (%s) has no name", idx, e.Kind))
			continue
		}
		if _, dup := g.byName[e.Kind][e.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate %s name %q", e.Kind, e.Name))
			continue
		}
		g.byName[e.Kind][e.Name] = e
		g.order[e] = idx
	}

	relIDs := make(map[string]struct{}, len(relationships))
	for idx, r := range relationships {
		if r == nil {
			problems = append(problems, fmt.Sprintf("relationship #%d is nil", idx))
			continue
		}
		if r.ID == "" {
			problems = append(problems, fmt.Sprintf("relationship #%d has no id", idx))
			continue
		}
		if _, dup := relIDs[r.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate relationship id %q", r.ID))
			continue
		}
		relIDs[r.ID] = struct{}{}

		if _, ok := g.order[r.Source]; !ok {
			problems = append(problems, fmt.Sprintf("relationship %q source is not part of the graph", r.ID))
			continue
		}
		if _, ok := g.order[r.Target]; !ok {
			problems = append(problems, fmt.Sprintf("relationship %q target is not part of the graph", r.ID))
			continue
		}

		switch r.Kind {
		case RelCauses:
			if !r.Source.IsFailureMode() || !r.Target.IsObservation() {
				problems = append(problems, fmt.Sprintf(
					"CAUSES relationship %q must link a FailureMode to an Observation, got %s -> %s",
					r.ID, r.Source.Kind, r.Target.Kind,
				))
				continue
			}
		case RelEvidenceFor:
			if !r.Target.IsFailureMode() {
				problems = append(problems, fmt.Sprintf(
					"EVIDENCE_FOR relationship %q must target a FailureMode, got %s",
					r.ID, r.Target.Kind,
				))
				continue
			}
			if r.Evidence == nil {
				r.Evidence = &Evidence{}
			}
		default:
			problems = append(problems, fmt.Sprintf("relationship %q has unknown kind %q", r.ID, r.Kind))
			continue
		}

		g.outgoing[r.Source] = append(g.outgoing[r.Source], r)
		g.incoming[r.Target] = append(g.incoming[r.Target], r)
	}

	if len(problems) > 0 {
		return nil, &GraphError{Problems: problems}
	}
	return g, nil
}

// Entity looks up an entity by kind and name.
func (g *Graph) Entity(kind EntityKind, name string) (*Entity, bool) {
	byKind, ok := g.byName[kind]
	if !ok {
		return nil, false
	}
	e, ok := byKind[name]
	return e, ok
}

// EntitiesOf returns all entities of one kind in authoring order.
func (g *Graph) EntitiesOf(kind EntityKind) []*Entity {
	var out []*Entity
	for _, e := range g.Entities {
		if e != nil && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FailureModes returns all failure modes in authoring order.
func (g *Graph) FailureModes() []*Entity {
	return g.EntitiesOf(KindFailureMode)
}

// Order returns the authoring position of an entity, or -1 when it is not
// part of the snapshot.
func (g *Graph) Order(e *Entity) int {
	idx, ok := g.order[e]
	if !ok {
		return -1
	}
	return idx
}

// EvidenceFor returns the EVIDENCE_FOR edges pointing at a failure mode in
// authoring order.
func (g *Graph) EvidenceFor(fm *Entity) []*Relationship {
	return filterKind(g.incoming[fm], RelEvidenceFor)
}

// EvidenceFrom returns the EVIDENCE_FOR edges leaving an entity in
// authoring order.
func (g *Graph) EvidenceFrom(e *Entity) []*Relationship {
	return filterKind(g.outgoing[e], RelEvidenceFor)
}

// Causes returns the CAUSES edges leaving a failure mode in authoring
// order.
func (g *Graph) Causes(fm *Entity) []*Relationship {
	return filterKind(g.outgoing[fm], RelCauses)
}

func filterKind(rels []*Relationship, kind RelationshipKind) []*Relationship {
	var out []*Relationship
	for _, r := range rels {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
