package diagnostic

import (
	"testing"

	"github.com/except-pass/telltale/pkg/common"
)

type graphBuilder struct {
	t        *testing.T
	entities []*common.Entity
	rels     []*common.Relationship
	byName   map[string]*common.Entity
}

func newBuilder(t *testing.T) *graphBuilder {
	t.Helper()
	return &graphBuilder{t: t, byName: map[string]*common.Entity{}}
}

func (b *graphBuilder) entity(kind common.EntityKind, name string) *graphBuilder {
	e := &common.Entity{ID: name, Kind: kind, Name: name}
	b.entities = append(b.entities, e)
	b.byName[name] = e
	return b
}

func (b *graphBuilder) fm(name string) *graphBuilder {
	return b.entity(common.KindFailureMode, name)
}

func (b *graphBuilder) obs(name string) *graphBuilder {
	return b.entity(common.KindObservation, name)
}

func (b *graphBuilder) sensor(name string) *graphBuilder {
	return b.entity(common.KindSensorReading, name)
}

func (b *graphBuilder) evidence(id, from, to string, ev common.Evidence) *graphBuilder {
	b.rels = append(b.rels, &common.Relationship{
		ID:       id,
		Kind:     common.RelEvidenceFor,
		Source:   b.byName[from],
		Target:   b.byName[to],
		Evidence: &ev,
	})
	return b
}

func (b *graphBuilder) causes(id, from, to string) *graphBuilder {
	b.rels = append(b.rels, &common.Relationship{
		ID:     id,
		Kind:   common.RelCauses,
		Source: b.byName[from],
		Target: b.byName[to],
	})
	return b
}

func (b *graphBuilder) engine() *Engine {
	b.t.Helper()
	g, err := common.NewGraph("test", b.entities, b.rels)
	if err != nil {
		b.t.Fatalf("expected valid graph, got %v", err)
	}
	return NewEngine(g)
}

func (b *graphBuilder) rel(id string) *common.Relationship {
	for _, r := range b.rels {
		if r.ID == id {
			return r
		}
	}
	b.t.Fatalf("relationship %q not found", id)
	return nil
}

func present(names ...string) map[string]ObservationState {
	m := make(map[string]ObservationState, len(names))
	for _, n := range names {
		m[n] = StatePresent
	}
	return m
}

func candidateNames(d *Diagnosis) []string {
	out := make([]string, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		out = append(out, c.FailureMode)
	}
	return out
}
