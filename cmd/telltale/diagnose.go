package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/logger"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var headingStyle = lipgloss.NewStyle().Bold(true)

type diagnoseReport struct {
	Diagnosis       *diagnostic.Diagnosis       `json:"diagnosis"`
	Recommendations []diagnostic.TestSuggestion `json:"recommendations"`
	Explanations    []*diagnostic.Explanation   `json:"explanations,omitempty"`
}

func newDiagnoseCmd() *cobra.Command {
	var (
		graphPath string
		flags     inputFlags
		explain   bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "diagnose [OBSERVATION...]",
		Short: "Rank failure modes for the given observations and sensor readings",
		Example: `  telltale diagnose --graph speaker.json "No Music" -s battery_voltage=3.5
  telltale diagnose --graph example:speaker -o "No Music" --absent "Buzz or Hiss" --explain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadGraph(cmd.Context(), graphPath)
			if err != nil {
				return err
			}
			in, err := flags.inputs(args...)
			if err != nil {
				return err
			}

			engine := diagnostic.NewEngine(g)
			d, err := engine.Diagnose(in)
			if err != nil {
				return err
			}
			recs, err := engine.RecommendNextTests(in)
			if err != nil {
				return err
			}
			logger.Debug("[CLI] Diagnosed", "graph_id", g.ID, "candidates", len(d.Candidates), "ruled_out", len(d.RuledOut))

			report := diagnoseReport{Diagnosis: d, Recommendations: recs}
			if explain {
				for _, c := range d.Candidates {
					x, err := engine.Explain(c.FailureMode, in)
					if err != nil {
						return err
					}
					report.Explanations = append(report.Explanations, x)
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			writeDiagnosis(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document: a path, s3://bucket/key or example:NAME")
	flags.register(cmd)
	cmd.Flags().BoolVarP(&explain, "explain", "e", false, "append a detailed explanation for each candidate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newExplainCmd() *cobra.Command {
	var (
		graphPath string
		flags     inputFlags
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "explain FAILURE_MODE",
		Short: "Explain how the evidence bears on one failure mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadGraph(cmd.Context(), graphPath)
			if err != nil {
				return err
			}
			in, err := flags.inputs()
			if err != nil {
				return err
			}
			x, err := diagnostic.NewEngine(g).Explain(args[0], in)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), x)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), x.Text())
			return err
		},
	}
	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document: a path, s3://bucket/key or example:NAME")
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeDiagnosis(w io.Writer, r diagnoseReport) {
	d := r.Diagnosis

	fmt.Fprintln(w, headingStyle.Render("Candidates:"))
	if len(d.Candidates) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for i, c := range d.Candidates {
		fmt.Fprintf(w, "  %d. %s (%s)\n", i+1, c.FailureMode, c.StrongestSignal)
		for _, ev := range c.Evidence {
			fmt.Fprintf(w, "     - %s %s: %s [%s]\n", ev.Kind, ev.Entity, ev.Strength, ev.RelationshipID)
		}
		for _, exp := range c.ExpectedObservations {
			fmt.Fprintf(w, "     - causes %s (%s)\n", exp.Observation, exp.State)
		}
	}

	if len(d.RuledOut) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", headingStyle.Render("Ruled out:"), strings.Join(d.RuledOut, ", "))
	}

	if len(d.Warnings) > 0 {
		fmt.Fprintf(w, "\n%s\n", headingStyle.Render("Configuration warnings:"))
		for _, warn := range d.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn.Error())
		}
	}

	fmt.Fprintf(w, "\n%s\n", headingStyle.Render("Recommended next tests:"))
	if len(r.Recommendations) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, s := range r.Recommendations {
		fmt.Fprintf(w, "  - %s %s: %s for %s\n", s.Kind, s.Entity, s.StrengthIfTriggered, strings.Join(s.Candidates, ", "))
	}

	for _, x := range r.Explanations {
		fmt.Fprintf(w, "\n%s", x.Text())
	}
}
