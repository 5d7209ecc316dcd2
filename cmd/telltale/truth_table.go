package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/spf13/cobra"
)

type truthTableFlags struct {
	graphPath     string
	expectPath    string
	varyObs       []string
	varySensors   []string
	fixedObs      []string
	fixedSensors  []string
	delta         float64
	maxCases      int
	format        string
	onlySurprises bool
	parallel      int
	output        string
}

func (f *truthTableFlags) options() (truthtable.GenerateOptions, error) {
	fixedObs, err := parseFixedObservations(f.fixedObs)
	if err != nil {
		return truthtable.GenerateOptions{}, err
	}
	fixedSensors, err := parseReadings(f.fixedSensors)
	if err != nil {
		return truthtable.GenerateOptions{}, err
	}
	return truthtable.GenerateOptions{
		VaryObservations:  f.varyObs,
		FixedObservations: fixedObs,
		VarySensors:       f.varySensors,
		FixedSensorValues: fixedSensors,
		Delta:             f.delta,
		MaxCases:          f.maxCases,
	}, nil
}

func newTruthTableCmd() *cobra.Command {
	var f truthTableFlags

	cmd := &cobra.Command{
		Use:   "truth-table",
		Short: "Run the engine over every combination of inputs and check expectations",
		Long: `Enumerates the observations and sensors in play, runs a diagnosis for
every combination and compares it with the registered expectations.

Exits with status 1 when any case is a surprise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			format, err := truthtable.ParseFormat(f.format)
			if err != nil {
				return err
			}
			opts, err := f.options()
			if err != nil {
				return err
			}

			doc, g, err := loadGraph(ctx, f.graphPath)
			if err != nil {
				return err
			}
			list, err := loadExpectations(ctx, doc, g, f.expectPath)
			if err != nil {
				return err
			}
			expectations := truthtable.NewExpectationSet()
			if err := expectations.RegisterAll(list); err != nil {
				return err
			}

			table := truthtable.New(diagnostic.NewEngine(g), truthtable.Options{
				Parallelism:  f.parallel,
				Expectations: expectations,
			})
			cases, err := table.Generate(opts)
			if err != nil {
				return err
			}

			start := time.Now()
			results, runErr := table.Run(ctx, cases)
			if runErr == nil {
				logger.Debug("[CLI] Truth table finished", "graph_id", g.ID, "cases", len(results), "duration", time.Since(start))
			}

			// an interrupted run still reports the cases it completed
			if err := f.report(cmd, format, results); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("truth table interrupted after %d of %d cases: %w", len(results), cases.Len(), runErr)
			}

			if truthtable.HasSurprises(results) {
				return errSurprises
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.graphPath, "graph", "g", "", "graph document: a path, s3://bucket/key or example:NAME")
	cmd.Flags().StringVar(&f.expectPath, "expect", "", "additional expectation document")
	cmd.Flags().StringSliceVar(&f.varyObs, "vary-obs", nil, "observations to vary")
	cmd.Flags().StringSliceVar(&f.varySensors, "vary-sensor", nil, "sensors to vary around their thresholds")
	cmd.Flags().StringArrayVar(&f.fixedObs, "fixed-obs", nil, "observation held fixed, as name or name=present|absent (repeatable)")
	cmd.Flags().StringArrayVar(&f.fixedSensors, "fixed-sensor", nil, "sensor held fixed, as name=value (repeatable)")
	cmd.Flags().Float64Var(&f.delta, "delta", 0, "offset of the samples taken around each threshold")
	cmd.Flags().IntVar(&f.maxCases, "max-cases", 100000, "refuse to generate more cases than this (0 for no limit)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "text", "report format: text, csv, html or table")
	cmd.Flags().BoolVar(&f.onlySurprises, "only-surprises", false, "only report surprising cases")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 0, "cases evaluated concurrently (default GOMAXPROCS)")
	cmd.Flags().StringVar(&f.output, "output", "", "write the report to this file instead of stdout")
	return cmd
}

func (f *truthTableFlags) report(cmd *cobra.Command, format truthtable.Format, results []truthtable.CaseResult) error {
	report, err := truthtable.Render(results, format, f.onlySurprises)
	if err != nil {
		return err
	}
	if err := writeReport(cmd.OutOrStdout(), f.output, report); err != nil {
		return err
	}

	s := truthtable.Summarize(results)
	fmt.Fprintf(cmd.ErrOrStderr(), "%d cases: %d verified, %d surprises, %d unverified, %d errors\n",
		s.Total, s.Verified, s.Surprises, s.Unverified, s.Errors)
	return nil
}

func writeReport(stdout io.Writer, path, report string) error {
	if path == "" {
		_, err := io.WriteString(stdout, report)
		return err
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info("[CLI] Report written", "path", path)
	return nil
}
