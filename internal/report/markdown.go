// Package report renders a Markdown summary of a finished crawl run.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Write renders summary to out.
func Write(out io.Writer, summary pipeline.Summary) error {
	md := markdown.NewMarkdown(out)

	md.H1("Catalog Crawl Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + summary.RunID + "`"},
			{"Catalog", summary.CatalogURL},
			{"Started", formatTime(summary.StartedAt)},
			{"Finished", formatTime(summary.FinishedAt)},
			{"Elapsed", elapsed(summary)},
			{"Status", statusText(summary)},
		},
	})
	md.PlainText("")

	writeTotals(md, summary.Totals)
	writeAlert(md, summary)
	writeFailures(md, summary.Failures)

	if err := md.Build(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteFile renders summary into path, replacing any existing file.
func WriteFile(path string, summary pipeline.Summary) (err error) {
	// #nosec G304 -- report path comes from configuration.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()
	return Write(f, summary)
}

func writeTotals(md *markdown.Markdown, totals crawler.RunTotals) {
	md.H2("Totals")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Catalog entries", strconv.Itoa(totals.Entries)},
			{"Programs extracted", strconv.Itoa(totals.Programs)},
			{"Entries skipped", strconv.Itoa(totals.Failed)},
			{"Items", strconv.Itoa(totals.Items)},
			{"Output rows", strconv.Itoa(totals.Rows)},
		},
	})
	md.PlainText("")

	if totals.Programs+totals.Failed == 0 {
		return
	}
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Entry outcomes"),
		piechart.WithShowData(true),
	)
	if totals.Programs > 0 {
		chart.LabelAndIntValue("Extracted", uint64(totals.Programs))
	}
	if totals.Failed > 0 {
		chart.LabelAndIntValue("Skipped", uint64(totals.Failed))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func writeAlert(md *markdown.Markdown, summary pipeline.Summary) {
	switch {
	case summary.Status == crawler.RunError:
		md.Cautionf("The run aborted: %s", summary.Error)
	case summary.Totals.Failed > 0:
		md.Warningf("%d of %d catalog entries produced no record.", summary.Totals.Failed, summary.Totals.Entries)
	default:
		md.Tip("Every catalog entry produced a record.")
	}
	md.PlainText("")
}

func writeFailures(md *markdown.Markdown, failures []pipeline.Failure) {
	md.H2("Skipped entries")
	md.PlainText("")
	if len(failures) == 0 {
		md.PlainText("None.")
		md.PlainText("")
		return
	}
	rows := make([][]string, len(failures))
	for i, f := range failures {
		rows[i] = []string{f.URL, f.Reason}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

func statusText(summary pipeline.Summary) string {
	switch summary.Status {
	case crawler.RunSuccess:
		return "✅ Complete"
	case crawler.RunError:
		return "❌ Error"
	case crawler.RunRunning:
		return "⏳ Running"
	default:
		return "-"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func elapsed(summary pipeline.Summary) string {
	if summary.StartedAt.IsZero() || summary.FinishedAt.IsZero() {
		return "-"
	}
	return summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second).String()
}
