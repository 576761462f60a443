// Package report renders the per-target conformance report artifact
// and the console summary. Reports are plain text so they can be
// attached to certification submissions without further processing.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"nascert/internal/harness"
	"nascert/pkg/logging"
)

const separator = "================================================================================"
const sectionSeparator = "--------------------------------------------------------------------------------"

type metadataEntry struct {
	key   string
	value string
}

// Writer accumulates run metadata and test results, then renders them
// to a world-readable report file. Metadata keeps insertion order.
type Writer struct {
	mu       sync.Mutex
	title    string
	metadata []metadataEntry
	results  []harness.Result
}

// NewWriter returns a report writer with the given report title.
func NewWriter(title string) *Writer {
	return &Writer{title: title}
}

// AddMetadata records one key/value pair for the report header. Pairs
// are rendered in the order they were added.
func (w *Writer) AddMetadata(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metadata = append(w.metadata, metadataEntry{key: key, value: value})
}

// AddResult appends one test result section.
func (w *Writer) AddResult(res harness.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results = append(w.results, res)
}

// AddResults appends results in order.
func (w *Writer) AddResults(results []harness.Result) {
	for _, res := range results {
		w.AddResult(res)
	}
}

// Generate writes the report to path. The file is made world-readable
// and chowned to uid/gid so a non-root operator can collect it after a
// run executed as root; ownership failures are logged, not fatal.
func (w *Writer) Generate(path string, summary harness.Summary, uid, gid int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	w.renderHeader(&b)
	w.renderResults(&b)
	renderSummary(&b, summary)

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		return fmt.Errorf("making report %s world-readable: %w", path, err)
	}
	if uid >= 0 && gid >= 0 {
		if err := os.Chown(path, uid, gid); err != nil {
			logging.Warn("Report", "Could not chown %s to %d:%d: %v", path, uid, gid, err)
		}
	}
	logging.Info("Report", "Wrote report %s (%d results)", path, len(w.results))
	return nil
}

func (w *Writer) renderHeader(b *strings.Builder) {
	fmt.Fprintln(b, separator)
	fmt.Fprintln(b, w.title)
	fmt.Fprintln(b, separator)
	fmt.Fprintln(b)

	if len(w.metadata) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	for _, entry := range w.metadata {
		t.AppendRow(table.Row{entry.key, entry.value})
	}
	fmt.Fprintln(b, t.Render())
	fmt.Fprintln(b)
}

func (w *Writer) renderResults(b *strings.Builder) {
	for _, res := range w.results {
		fmt.Fprintln(b, sectionSeparator)
		fmt.Fprintf(b, "TEST: %s\n", res.Name)
		fmt.Fprintln(b, sectionSeparator)
		if res.Description != "" {
			fmt.Fprintf(b, "Description: %s\n", res.Description)
		}
		if len(res.Steps) > 0 {
			fmt.Fprintln(b, "Steps:")
			for i, step := range res.Steps {
				fmt.Fprintf(b, "  %d. %s\n", i+1, step)
			}
		}
		fmt.Fprintf(b, "Result: %s\n", verdict(res.Passed))
		if res.Message != "" {
			fmt.Fprintf(b, "Detail: %s\n", res.Message)
		}
		if !res.Timestamp.IsZero() {
			fmt.Fprintf(b, "Completed: %s\n", res.Timestamp.Format(time.RFC3339))
		}
		fmt.Fprintln(b)
	}
}

func renderSummary(b *strings.Builder, summary harness.Summary) {
	fmt.Fprintln(b, separator)
	fmt.Fprintln(b, "SUMMARY")
	fmt.Fprintln(b, separator)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendRow(table.Row{"Total", summary.Total})
	t.AppendRow(table.Row{"Passed", summary.Passed})
	t.AppendRow(table.Row{"Failed", summary.Failed})
	fmt.Fprintln(b, t.Render())

	if len(summary.Failures) > 0 {
		fmt.Fprintln(b)
		fmt.Fprintln(b, "Failed tests:")
		for _, name := range summary.Failures {
			fmt.Fprintf(b, "  - %s\n", name)
		}
	}
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

// ConsoleSummary renders the aggregate run outcome as a table, in the
// style used for terminal output elsewhere in this tool.
func ConsoleSummary(out io.Writer, summary harness.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TOTAL", "PASSED", "FAILED"})
	t.AppendRow(table.Row{summary.Total, summary.Passed, summary.Failed})
	t.Render()

	if len(summary.Failures) > 0 {
		fmt.Fprintln(out, "Failed tests:")
		for _, name := range summary.Failures {
			fmt.Fprintf(out, "  - %s\n", name)
		}
	}
}
