package truthtable

import (
	"context"
	"errors"
	"runtime"

	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Status classifies one truth-table case.
type Status string

const (
	StatusVerified   Status = "verified"
	StatusSurprise   Status = "surprise"
	StatusUnverified Status = "unverified"
	StatusError      Status = "error"
)

// CaseResult is the outcome of running one input vector through the
// engine.
type CaseResult struct {
	Index      int                              `json:"index"`
	Inputs     InputVector                      `json:"inputs"`
	Absent     []string                         `json:"absent"`
	Actual     []Outcome                        `json:"diagnosed"`
	Expected   []Outcome                        `json:"expected"`
	Unexpected []Outcome                        `json:"unexpected"`
	Missing    []Outcome                        `json:"missing"`
	Surprise   bool                             `json:"surprise"`
	Unverified bool                             `json:"unverified"`
	Status     Status                           `json:"status"`
	Warnings   []*diagnostic.ConfigurationError `json:"warnings,omitempty"`
	Err        string                           `json:"error,omitempty"`
}

// Options configures a Table.
type Options struct {
	// Parallelism bounds concurrent engine calls. Zero means GOMAXPROCS.
	Parallelism  int
	Expectations *ExpectationSet
}

// Table drives an engine across input vectors and compares the results
// with registered expectations.
type Table struct {
	engine       *diagnostic.Engine
	catalog      *Catalog
	expectations *ExpectationSet
	parallelism  int
}

// New scans the engine's snapshot and returns a table ready to generate
// and run cases.
func New(engine *diagnostic.Engine, opts Options) *Table {
	exp := opts.Expectations
	if exp == nil {
		exp = NewExpectationSet()
	}
	p := opts.Parallelism
	if p <= 0 {
		p = runtime.GOMAXPROCS(0)
	}
	return &Table{
		engine:       engine,
		catalog:      Scan(engine.Graph()),
		expectations: exp,
		parallelism:  p,
	}
}

func (t *Table) Catalog() *Catalog { return t.catalog }

func (t *Table) Expectations() *ExpectationSet { return t.expectations }

// RegisterExpectedOutcome associates a vector with its expected outcomes.
func (t *Table) RegisterExpectedOutcome(v InputVector, expected []Outcome) error {
	return t.expectations.Register(v, expected)
}

// Generate builds cases over the table's catalog.
func (t *Table) Generate(opts GenerateOptions) (*CaseSet, error) {
	return Generate(t.catalog, opts)
}

// Run evaluates every case. When ctx is cancelled no further cases are
// submitted; the completed prefix is returned together with the context
// error.
func (t *Table) Run(ctx context.Context, cases Cases) ([]CaseResult, error) {
	total := cases.Len()
	results := make([]CaseResult, total)

	logger.Debug("[TruthTable] Running cases", "graph_id", t.engine.Graph().ID, "cases", total, "parallelism", t.parallelism)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)

	submitted := 0
	var stopErr error
submit:
	for i := 0; i < total; i++ {
		select {
		case <-gCtx.Done():
			stopErr = gCtx.Err()
			break submit
		default:
		}
		idx := i
		g.Go(func() error {
			results[idx] = t.RunCase(idx, cases.At(idx))
			return nil
		})
		submitted++
	}

	if err := g.Wait(); err != nil {
		return results[:submitted], err
	}
	if stopErr != nil {
		logger.Warn("[TruthTable] Run stopped early", "completed", submitted, "cases", total, "err", stopErr)
		return results[:submitted], stopErr
	}

	s := Summarize(results)
	logger.Info("[TruthTable] Run completed", "cases", s.Total, "verified", s.Verified, "surprises", s.Surprises, "unverified", s.Unverified, "errors", s.Errors)
	return results, nil
}

// RunCase evaluates a single vector.
func (t *Table) RunCase(idx int, v InputVector) CaseResult {
	v = v.Normalize()
	res := CaseResult{
		Index:      idx,
		Inputs:     v,
		Absent:     v.Absent(t.catalog),
		Actual:     []Outcome{},
		Expected:   []Outcome{},
		Unexpected: []Outcome{},
		Missing:    []Outcome{},
	}

	d, err := t.engine.Diagnose(v.Inputs(t.catalog))
	if err != nil {
		res.Status = StatusError
		res.Err = err.Error()
		var ue *diagnostic.UnknownInputError
		if !errors.As(err, &ue) {
			logger.Error("[TruthTable] Case failed", "index", idx, "err", err)
		}
		return res
	}

	for _, c := range d.Candidates {
		res.Actual = append(res.Actual, Outcome{FailureMode: c.FailureMode, Confidence: c.StrongestSignal})
	}
	if len(d.Warnings) > 0 {
		res.Warnings = d.Warnings
	}

	expected, ok := t.expectations.Lookup(v)
	if !ok {
		res.Unverified = true
		res.Status = StatusUnverified
		return res
	}
	res.Expected = expected
	res.Unexpected, res.Missing = diffOutcomes(res.Actual, expected)
	res.Surprise = len(res.Unexpected) > 0 || len(res.Missing) > 0
	if res.Surprise {
		res.Status = StatusSurprise
	} else {
		res.Status = StatusVerified
	}
	return res
}

// Summary counts results per status.
type Summary struct {
	Total      int `json:"total"`
	Verified   int `json:"verified"`
	Surprises  int `json:"surprises"`
	Unverified int `json:"unverified"`
	Errors     int `json:"errors"`
}

func Summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusVerified:
			s.Verified++
		case StatusSurprise:
			s.Surprises++
		case StatusUnverified:
			s.Unverified++
		case StatusError:
			s.Errors++
		}
	}
	return s
}

// HasSurprises reports whether any case differs from its expectation.
func HasSurprises(results []CaseResult) bool {
	for _, r := range results {
		if r.Surprise {
			return true
		}
	}
	return false
}
