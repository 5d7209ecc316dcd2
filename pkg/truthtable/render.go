package truthtable

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/except-pass/telltale/pkg/common"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Format selects a rendering of truth-table results.
type Format string

const (
	FormatText  Format = "text"
	FormatCSV   Format = "csv"
	FormatHTML  Format = "html"
	FormatTable Format = "table"
)

const noResults = "No results to display."

// ParseFormat validates a format name. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatCSV, FormatHTML, FormatTable:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (text, csv, html, table)", s)
}

// ContentType returns the media type of a rendered report.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Render formats results. With onlySurprises set, rows without a surprise
// are dropped first.
func Render(results []CaseResult, format Format, onlySurprises bool) (string, error) {
	rows := results
	if onlySurprises {
		rows = make([]CaseResult, 0, len(results))
		for _, r := range results {
			if r.Surprise {
				rows = append(rows, r)
			}
		}
	}

	switch format {
	case FormatText, "":
		return renderText(rows), nil
	case FormatCSV:
		return renderCSV(rows)
	case FormatHTML:
		return renderHTML(rows)
	case FormatTable:
		return renderTable(rows), nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}

// columns collects the observation and sensor names across rows, sorted.
func columns(rows []CaseResult) (observations, sensors []string) {
	obs := map[string]struct{}{}
	sen := map[string]struct{}{}
	for _, r := range rows {
		for _, o := range r.Inputs.Observations {
			obs[o] = struct{}{}
		}
		for _, o := range r.Absent {
			obs[o] = struct{}{}
		}
		for s := range r.Inputs.SensorValues {
			sen[s] = struct{}{}
		}
	}
	return sortedKeys(obs), sortedKeys(sen)
}

func header(observations, sensors []string) []string {
	h := make([]string, 0, len(observations)+len(sensors)+3)
	for _, o := range observations {
		h = append(h, "Obs: "+o)
	}
	for _, s := range sensors {
		h = append(h, "Sensor: "+s)
	}
	return append(h, "Failure Modes", "Confidences", "Surprise")
}

func record(r CaseResult, observations, sensors []string) []string {
	row := make([]string, 0, len(observations)+len(sensors)+3)
	for _, o := range observations {
		row = append(row, yesNo(r.Inputs.Present(o)))
	}
	for _, s := range sensors {
		row = append(row, sensorCell(r, s))
	}
	names := make([]string, len(r.Actual))
	confidences := make([]string, len(r.Actual))
	for i, a := range r.Actual {
		names[i] = a.FailureMode
		confidences[i] = a.Confidence.String()
	}
	return append(row, strings.Join(names, "; "), strings.Join(confidences, "; "), surpriseCell(r))
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func sensorCell(r CaseResult, name string) string {
	v, ok := r.Inputs.SensorValues[name]
	if !ok {
		return "Unknown"
	}
	return common.FormatNumber(v)
}

func surpriseCell(r CaseResult) string {
	switch r.Status {
	case StatusSurprise:
		return "Yes"
	case StatusUnverified:
		return "Unverified"
	case StatusError:
		return "Error"
	}
	return "No"
}

func outcomeList(outcomes []Outcome) string {
	if len(outcomes) == 0 {
		return "none"
	}
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

func renderText(rows []CaseResult) string {
	if len(rows) == 0 {
		return noResults
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "Test Case %d:\n", r.Index+1)
		fmt.Fprintf(&b, "  Observations: %s\n", strings.Join(r.Inputs.Observations, ", "))
		if len(r.Absent) > 0 {
			fmt.Fprintf(&b, "  Absent: %s\n", strings.Join(r.Absent, ", "))
		}
		sensors := sortedKeys(r.Inputs.SensorValues)
		readings := make([]string, len(sensors))
		for i, s := range sensors {
			readings[i] = s + "=" + common.FormatNumber(r.Inputs.SensorValues[s])
		}
		fmt.Fprintf(&b, "  Sensor Values: %s\n", strings.Join(readings, ", "))
		if r.Status == StatusError {
			fmt.Fprintf(&b, "  ERROR: %s\n", r.Err)
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "  Diagnosed Failure Modes: %s\n", outcomeList(r.Actual))
		if !r.Unverified {
			fmt.Fprintf(&b, "  Expected Failure Modes: %s\n", outcomeList(r.Expected))
		}
		if len(r.Unexpected) > 0 {
			fmt.Fprintf(&b, "  UNEXPECTED RESULTS: %s\n", outcomeList(r.Unexpected))
		}
		if len(r.Missing) > 0 {
			fmt.Fprintf(&b, "  MISSING RESULTS: %s\n", outcomeList(r.Missing))
		}
		fmt.Fprintf(&b, "  Status: %s\n", r.Status)
		b.WriteString("\n")
	}
	return b.String()
}

func renderCSV(rows []CaseResult) (string, error) {
	observations, sensors := columns(rows)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header(observations, sensors)); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write(record(r, observations, sensors)); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func cell(a atom.Atom, text string) *html.Node {
	n := element(a)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

func renderHTML(rows []CaseResult) (string, error) {
	observations, sensors := columns(rows)

	tbl := element(atom.Table, html.Attribute{Key: "border", Val: "1"})
	head := element(atom.Tr)
	for _, h := range header(observations, sensors) {
		head.AppendChild(cell(atom.Th, h))
	}
	tbl.AppendChild(head)

	for _, r := range rows {
		var attrs []html.Attribute
		switch r.Status {
		case StatusSurprise:
			attrs = []html.Attribute{{Key: "class", Val: "surprise"}, {Key: "style", Val: "color:red"}}
		case StatusUnverified:
			attrs = []html.Attribute{{Key: "class", Val: "unverified"}}
		case StatusError:
			attrs = []html.Attribute{{Key: "class", Val: "error"}, {Key: "title", Val: r.Err}}
		}
		tr := element(atom.Tr, attrs...)
		for _, v := range record(r, observations, sensors) {
			tr.AppendChild(cell(atom.Td, v))
		}
		tbl.AppendChild(tr)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, tbl); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return buf.String(), nil
}

var (
	tableHeaderStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle     = lipgloss.NewStyle().Padding(0, 1)
	tableSurpriseStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#E74C3C")).Bold(true)
	tableMutedStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#2C4A54"))
)

func renderTable(rows []CaseResult) string {
	if len(rows) == 0 {
		return noResults
	}
	observations, sensors := columns(rows)
	data := make([][]string, len(rows))
	for i, r := range rows {
		data[i] = record(r, observations, sensors)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(header(observations, sensors)...).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if row < 0 || row >= len(rows) {
				return tableCellStyle
			}
			switch rows[row].Status {
			case StatusSurprise, StatusError:
				return tableSurpriseStyle
			case StatusUnverified:
				return tableMutedStyle
			}
			return tableCellStyle
		})
	return t.String()
}
