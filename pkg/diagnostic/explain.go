package diagnostic

import (
	"fmt"
	"strings"

	"github.com/except-pass/telltale/pkg/common"
)

// ExplanationStatus summarises where a failure mode ended up.
type ExplanationStatus string

const (
	StatusCandidate  ExplanationStatus = "candidate"
	StatusRuledOut   ExplanationStatus = "ruled_out"
	StatusNoEvidence ExplanationStatus = "no_evidence"
)

// ExplainedEvidence is one evaluated edge with a human-readable sentence.
type ExplainedEvidence struct {
	EvidenceItem
	Condition Condition         `json:"condition"`
	Operator  common.Operator   `json:"operator,omitempty"`
	Threshold *common.Threshold `json:"threshold,omitempty"`
	Value     string            `json:"value"`
	Text      string            `json:"text"`
}

// Explanation breaks down why a failure mode was ranked the way it was.
type Explanation struct {
	FailureMode     string                `json:"failure_mode"`
	Status          ExplanationStatus     `json:"status"`
	StrongestSignal common.Strength       `json:"strongest_signal,omitempty"`
	Supporting      []ExplainedEvidence   `json:"supporting"`
	Contradicting   []ExplainedEvidence   `json:"contradicting"`
	Neutral         []ExplainedEvidence   `json:"neutral"`
	CausalLinks     []ExpectedObservation `json:"causal_links"`
	Warnings        []*ConfigurationError `json:"warnings"`
}

// Explain traces the evidence of a single failure mode for the given
// inputs. Only edges that produced a signal are listed.
func (e *Engine) Explain(failureMode string, in Inputs) (*Explanation, error) {
	fm, ok := e.graph.Entity(common.KindFailureMode, failureMode)
	if !ok {
		return nil, &UnknownInputError{Kind: common.KindFailureMode, Name: failureMode}
	}

	r, verdicts, warnings, err := e.assess(in)
	if err != nil {
		return nil, err
	}

	var v *verdict
	for _, candidate := range verdicts {
		if candidate.fm == fm {
			v = candidate
			break
		}
	}

	x := &Explanation{
		FailureMode:   fm.Name,
		Supporting:    []ExplainedEvidence{},
		Contradicting: []ExplainedEvidence{},
		Neutral:       []ExplainedEvidence{},
		CausalLinks:   []ExpectedObservation{},
		Warnings:      []*ConfigurationError{},
	}
	for _, w := range warnings {
		if w.Target == fm.Name {
			x.Warnings = append(x.Warnings, w)
		}
	}

	switch {
	case v.vetoed:
		x.Status = StatusRuledOut
	case v.survives():
		x.Status = StatusCandidate
		x.StrongestSignal = v.strongest
	default:
		x.Status = StatusNoEvidence
	}

	for _, res := range v.contributing() {
		item := explainEdge(res)
		switch {
		case res.assessment.Strength.Supports():
			x.Supporting = append(x.Supporting, item)
		case res.assessment.Strength.Contradicts():
			x.Contradicting = append(x.Contradicting, item)
		default:
			x.Neutral = append(x.Neutral, item)
		}
	}

	if obs := e.expectedObservations(fm, r); obs != nil {
		x.CausalLinks = obs
	}
	return x, nil
}

func explainEdge(res edgeResult) ExplainedEvidence {
	rel := res.rel
	src := rel.Source
	item := ExplainedEvidence{
		EvidenceItem: EvidenceItem{
			Entity:         src.Name,
			Kind:           src.Kind,
			RelationshipID: rel.ID,
			Strength:       res.assessment.Strength,
		},
		Condition: res.assessment.Condition,
		Operator:  rel.Evidence.Operator,
		Threshold: rel.Evidence.Threshold,
		Value:     describeValue(src, res.value),
	}

	var text string
	switch {
	case rel.Description != "":
		text = rel.Description
	case src.IsSensor():
		phrase := rel.Evidence.Operator.Phrase()
		if res.assessment.Condition == ConditionFalse {
			phrase = rel.Evidence.Operator.NegatedPhrase()
		}
		text = fmt.Sprintf("Sensor %q reading %s %s threshold %s", src.Name, item.Value, phrase, rel.Evidence.Threshold)
	case src.IsFailureMode():
		text = fmt.Sprintf("Failure mode %q is %s", src.Name, item.Value)
	default:
		text = fmt.Sprintf("Observation %q is %s", src.Name, item.Value)
	}

	rationale := rel.Evidence.WhenTrueRationale
	if res.assessment.Condition == ConditionFalse {
		rationale = rel.Evidence.WhenFalseRationale
	}
	if rationale != "" {
		text += " - " + rationale
	}
	item.Text = text
	return item
}

func describeValue(src *common.Entity, v Value) string {
	switch v.kind {
	case valueBool:
		if src.IsFailureMode() {
			if v.b {
				return "confirmed"
			}
			return "not confirmed"
		}
		if v.b {
			return string(StatePresent)
		}
		return string(StateAbsent)
	case valueNumber:
		s := common.FormatNumber(v.n)
		if label, ok := src.ValueDescriptions[s]; ok {
			return fmt.Sprintf("%s (%s)", s, label)
		}
		return s
	}
	return string(StateUnknown)
}

// Text renders the explanation as a grouped, human-readable report.
func (x *Explanation) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Explanation for diagnosis: '%s'\n", x.FailureMode)
	switch x.Status {
	case StatusCandidate:
		fmt.Fprintf(&b, "Status: candidate (%s)\n", x.StrongestSignal)
	case StatusRuledOut:
		b.WriteString("Status: ruled out\n")
	default:
		b.WriteString("Status: no evidence for the supplied inputs\n")
	}
	b.WriteString("\n")

	if len(x.Supporting) > 0 {
		b.WriteString("Evidence supporting this diagnosis:\n")
		writeGroup(&b, "Strong confirmations", x.Supporting, common.Confirms)
		writeGroup(&b, "Suggestive evidence", x.Supporting, common.Suggests)
	} else {
		b.WriteString("No evidence was found supporting this diagnosis.\n")
	}

	if len(x.Contradicting) > 0 {
		b.WriteString("\nEvidence contradicting this diagnosis:\n")
		writeGroup(&b, "Strong contradictions", x.Contradicting, common.RulesOut)
		writeGroup(&b, "Mild contradictions", x.Contradicting, common.SuggestsAgainst)
	} else {
		b.WriteString("\nNo evidence was found contradicting this diagnosis.\n")
	}

	if len(x.Neutral) > 0 {
		b.WriteString("\nInconclusive evidence:\n")
		for _, e := range x.Neutral {
			fmt.Fprintf(&b, "- %s\n", e.Text)
		}
	}

	var observed []ExpectedObservation
	for _, c := range x.CausalLinks {
		if c.State == StatePresent {
			observed = append(observed, c)
		}
	}
	if len(observed) > 0 {
		b.WriteString("\nCausal links from this failure mode to the observed symptoms:\n")
		for i, c := range observed {
			fmt.Fprintf(&b, "Path %d: %s CAUSES %s\n", i+1, x.FailureMode, c.Observation)
		}
	}

	if len(x.Warnings) > 0 {
		b.WriteString("\nConfiguration warnings:\n")
		for _, w := range x.Warnings {
			fmt.Fprintf(&b, "- %s\n", w.Error())
		}
	}
	return b.String()
}

func writeGroup(b *strings.Builder, title string, items []ExplainedEvidence, strength common.Strength) {
	first := true
	for _, e := range items {
		if e.Strength != strength {
			continue
		}
		if first {
			fmt.Fprintf(b, "\n%s:\n", title)
			first = false
		}
		fmt.Fprintf(b, "- %s\n", e.Text)
	}
}
