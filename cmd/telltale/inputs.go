package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/loader"
	loaderio "github.com/except-pass/telltale/pkg/loader/io"
	loaders3 "github.com/except-pass/telltale/pkg/loader/s3"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/spf13/cobra"
)

// examplePrefix selects a bundled example as the graph, e.g.
// "example:speaker".
const examplePrefix = "example:"

// documentLoader reads local files, and s3:// paths with credentials
// from the AWS_* environment.
func documentLoader(ctx context.Context, path string) (loader.DocumentLoader, error) {
	router := &loader.Router{Local: loaderio.NewIODocumentLoader()}

	bucket, _, ok := loader.ParseS3URI(path)
	if !ok {
		return router, nil
	}
	remote, err := loaders3.NewS3DocumentLoader(ctx, loaders3.NewS3DocumentLoaderParams{
		Bucket:    bucket,
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
	})
	if err != nil {
		return nil, err
	}
	router.Remote = remote
	return router, nil
}

func loadDocument(ctx context.Context, path string) (*loader.GraphDocument, error) {
	if path == "" {
		return nil, fmt.Errorf("--graph is required")
	}
	if name, ok := strings.CutPrefix(path, examplePrefix); ok {
		return loader.Example(name)
	}
	l, err := documentLoader(ctx, path)
	if err != nil {
		return nil, err
	}
	return loader.LoadDocument(ctx, l, loader.NewDocumentFile(path))
}

// loadGraph parses and builds the document at path.
func loadGraph(ctx context.Context, path string) (*loader.GraphDocument, *common.Graph, error) {
	doc, err := loadDocument(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	g, err := doc.Build()
	if err != nil {
		return nil, nil, err
	}
	return doc, g, nil
}

// loadExpectations collects the document's inline expectations and those
// of the optional standalone file, checked against g.
func loadExpectations(ctx context.Context, doc *loader.GraphDocument, g *common.Graph, path string) ([]truthtable.Expectation, error) {
	list, err := loader.ToExpectations(doc.Expectations)
	if err != nil {
		return nil, err
	}
	if path != "" {
		l, err := documentLoader(ctx, path)
		if err != nil {
			return nil, err
		}
		extra, err := loader.LoadExpectations(ctx, l, loader.NewDocumentFile(path))
		if err != nil {
			return nil, err
		}
		more, err := loader.ToExpectations(extra.Expectations)
		if err != nil {
			return nil, err
		}
		list = append(list, more...)
	}
	if err := truthtable.CheckNames(g, list); err != nil {
		return nil, err
	}
	return list, nil
}

// inputFlags are the runtime inputs shared by diagnose and explain.
type inputFlags struct {
	observed  []string
	absent    []string
	sensors   []string
	confirmed []string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.observed, "observed", "o", nil, "observation that is present (repeatable)")
	cmd.Flags().StringArrayVar(&f.absent, "absent", nil, "observation that was checked and is absent (repeatable)")
	cmd.Flags().StringArrayVarP(&f.sensors, "sensor", "s", nil, "sensor reading as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.confirmed, "confirmed", nil, "failure mode confirmed by a technician (repeatable)")
}

// inputs builds the runtime vector. Extra names, such as positional
// arguments, count as present observations.
func (f *inputFlags) inputs(extra ...string) (diagnostic.Inputs, error) {
	in := diagnostic.Inputs{
		Observations:          make(map[string]diagnostic.ObservationState),
		SensorValues:          make(map[string]*float64),
		ConfirmedFailureModes: f.confirmed,
	}
	for _, name := range append(append([]string{}, f.observed...), extra...) {
		in.Observations[name] = diagnostic.StatePresent
	}
	for _, name := range f.absent {
		if in.Observations[name] == diagnostic.StatePresent {
			return diagnostic.Inputs{}, fmt.Errorf("observation %q is both present and absent", name)
		}
		in.Observations[name] = diagnostic.StateAbsent
	}

	values, err := parseReadings(f.sensors)
	if err != nil {
		return diagnostic.Inputs{}, err
	}
	for name, v := range values {
		in.SensorValues[name] = diagnostic.Reading(v)
	}
	return in, nil
}

// parseReadings parses name=value pairs. A repeated name keeps the last
// value.
func parseReadings(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := cutAssignment(pair)
		if !ok {
			return nil, fmt.Errorf("invalid sensor reading %q, expected name=value", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for sensor %q: %q", name, raw)
		}
		out[name] = v
	}
	return out, nil
}

// parseFixedObservations accepts "name" (present) or name=STATE where STATE
// is present/absent or a boolean.
func parseFixedObservations(pairs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := cutAssignment(pair)
		if !ok {
			name = strings.TrimSpace(pair)
			if name == "" {
				return nil, fmt.Errorf("empty observation name")
			}
			out[name] = true
			continue
		}
		switch strings.ToLower(raw) {
		case "present":
			out[name] = true
		case "absent":
			out[name] = false
		default:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid state for observation %q: %q", name, raw)
			}
			out[name] = b
		}
	}
	return out, nil
}

// cutAssignment splits at the last '=' so names may contain one.
func cutAssignment(pair string) (name, value string, ok bool) {
	i := strings.LastIndex(pair, "=")
	if i < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(pair[:i])
	value = strings.TrimSpace(pair[i+1:])
	if name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}
