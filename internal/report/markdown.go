package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/refgrab/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.CrawlSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeOutcomes(md, summary)
	w.writeDownloads(md, summary)
	w.writeProblems(md, summary)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *model.CrawlSummary) {
	md.H1("refgrab Report")
	md.PlainText("")

	session := "anonymous"
	if summary.Authenticated {
		session = "authenticated"
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + summary.Seed + "`"},
			{"Started", summary.Started.Format("2006-01-02 15:04:05 MST")},
			{"Duration", summary.Duration.String()},
			{"Pages Visited", strconv.Itoa(summary.PagesVisited)},
			{"Session", session},
		},
	})
	md.PlainText("")
}

// writeOutcomes writes the outcome summary section.
func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, summary *model.CrawlSummary) {
	md.H2("Outcome Summary")
	md.PlainText("")

	downloaded := len(summary.Downloaded())
	skipped := len(summary.Skipped())
	failed := len(summary.Failed())

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"✅ Downloaded", strconv.Itoa(downloaded)},
			{"⏭️ Skipped", strconv.Itoa(skipped)},
			{"❌ Failed", strconv.Itoa(failed)},
			{"**Total bytes**", "**" + formatBytes(summary.TotalBytes()) + "**"},
		},
	})
	md.PlainText("")

	if downloaded+skipped+failed > 0 {
		w.writePieChart(md, downloaded, skipped, failed)
	}

	w.writeAlert(md, summary)
}

// writePieChart writes a mermaid pie chart for the outcome distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, downloaded, skipped, failed int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Download Outcome Distribution"),
		piechart.WithShowData(true),
	)

	if downloaded > 0 {
		chart.LabelAndIntValue("Downloaded", uint64(downloaded))
	}
	if skipped > 0 {
		chart.LabelAndIntValue("Skipped", uint64(skipped))
	}
	if failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(failed))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an appropriate alert based on the run outcome.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.CrawlSummary) {
	failed := len(summary.Failed())
	switch {
	case failed > 0:
		md.Warningf(
			"%d download(s) failed. Re-running against the same seed retries only the failures.",
			failed,
		)
	case len(summary.Errors) > 0:
		md.Importantf(
			"%d page(s) could not be fetched or parsed during traversal.",
			len(summary.Errors),
		)
	case len(summary.Downloaded()) == 0:
		md.Note("No new files were downloaded; everything was already present.")
	default:
		md.Tip("All discovered files were downloaded successfully.")
	}
	md.PlainText("")
}

// writeDownloads writes the per-file download table.
func (w *MarkdownWriter) writeDownloads(md *markdown.Markdown, summary *model.CrawlSummary) {
	md.H2("Downloaded Files")
	md.PlainText("")

	downloaded := summary.Downloaded()
	if len(downloaded) == 0 {
		md.PlainText("No files downloaded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(downloaded))
	for _, record := range downloaded {
		rows = append(rows, []string{
			"`" + record.Path + "`",
			formatBytes(record.Bytes),
			"`" + record.SHA256 + "`",
		})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Path", "Size", "SHA256"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeProblems writes failed downloads and run-level errors.
func (w *MarkdownWriter) writeProblems(md *markdown.Markdown, summary *model.CrawlSummary) {
	failed := summary.Failed()
	if len(failed) == 0 && len(summary.Errors) == 0 {
		return
	}

	md.H2("Problems")
	md.PlainText("")

	items := make([]string, 0, len(failed)+len(summary.Errors))
	for _, record := range failed {
		items = append(items, record.URL+": "+record.Reason)
	}
	items = append(items, summary.Errors...)

	md.BulletList(items...)
	md.PlainText("")
}
