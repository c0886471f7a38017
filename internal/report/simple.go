package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/refgrab/internal/model"
)

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with no entries are shown.
	showEmpty bool

	// verbose enables per-record detail in the output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		showEmpty:  false,
		verbose:    false,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *model.CrawlSummary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeCounts(&sb, summary)
	w.writeDownloads(&sb, summary)
	w.writeProblems(&sb, summary)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with run information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *model.CrawlSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          REFGRAB REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Seed:           %s\n", summary.Seed))
	sb.WriteString(fmt.Sprintf("Started:        %s\n", summary.Started.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("Duration:       %s\n", summary.Duration.Round(100*time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Pages Visited:  %d\n", summary.PagesVisited))

	if summary.Authenticated {
		sb.WriteString("Session:        authenticated\n")
	} else {
		sb.WriteString("Session:        anonymous\n")
	}

	sb.WriteString("\n")
}

// writeCounts writes the outcome summary section.
func (w *SimpleWriter) writeCounts(sb *strings.Builder, summary *model.CrawlSummary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("OUTCOME SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  DOWNLOADED: %d (%s)\n", len(summary.Downloaded()), formatBytes(summary.TotalBytes())))
	sb.WriteString(fmt.Sprintf("  SKIPPED:    %d\n", len(summary.Skipped())))
	sb.WriteString(fmt.Sprintf("  FAILED:     %d\n", len(summary.Failed())))
	sb.WriteString("\n")
}

// writeDownloads writes the per-file download section.
func (w *SimpleWriter) writeDownloads(sb *strings.Builder, summary *model.CrawlSummary) {
	downloaded := summary.Downloaded()
	if len(downloaded) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("DOWNLOADED FILES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(downloaded) == 0 {
		sb.WriteString("  No files downloaded\n")
	}
	for _, record := range downloaded {
		sb.WriteString(fmt.Sprintf("  [+] %s (%s)\n", record.Path, formatBytes(record.Bytes)))
		if w.verbose {
			sb.WriteString(fmt.Sprintf("      URL:    %s\n", record.URL))
			sb.WriteString(fmt.Sprintf("      SHA256: %s\n", record.SHA256))
		}
	}
	sb.WriteString("\n")
}

// writeProblems writes skipped and failed downloads plus run-level errors.
func (w *SimpleWriter) writeProblems(sb *strings.Builder, summary *model.CrawlSummary) {
	skipped := summary.Skipped()
	failed := summary.Failed()
	if len(skipped) == 0 && len(failed) == 0 && len(summary.Errors) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("PROBLEMS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for _, record := range failed {
		sb.WriteString(fmt.Sprintf("  [!] %s\n", record.URL))
		sb.WriteString(fmt.Sprintf("      %s\n", record.Reason))
	}
	if w.verbose {
		for _, record := range skipped {
			sb.WriteString(fmt.Sprintf("  [-] %s\n", record.URL))
			sb.WriteString(fmt.Sprintf("      %s\n", record.Reason))
		}
	}
	for _, msg := range summary.Errors {
		sb.WriteString(fmt.Sprintf("  [!] %s\n", msg))
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by refgrab\n")
	sb.WriteString("https://github.com/nao1215/refgrab\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
