package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/aluiziolira/go-scrape-orders/credentials"
	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/pipeline"
	"github.com/aluiziolira/go-scrape-orders/report"
)

const maxHeaderValue = 48

// progressSink prints progress by severity and keeps the output file current
// after every collected page.
type progressSink struct {
	writer pipeline.OutputWriter
}

func newProgressSink(writer pipeline.OutputWriter) *progressSink {
	return &progressSink{writer: writer}
}

func (p *progressSink) Progress(ev models.Progress) {
	switch ev.Severity {
	case models.SeverityError:
		pterm.Error.Println(ev.Message)
	case models.SeverityWarning:
		pterm.Warning.Println(ev.Message)
	case models.SeveritySuccess:
		pterm.Success.Println(ev.Message)
	default:
		pterm.Info.Println(ev.Message)
	}
}

func (p *progressSink) Live(result *models.CollectionResult, summary report.Summary) {
	if p.writer == nil {
		return
	}
	if err := p.writer.Write(result); err != nil {
		slog.Warn("live output update failed", slog.Any("error", err))
		return
	}
	slog.Debug("live output updated",
		slog.Int("orders", summary.Orders),
		slog.Int("items", summary.Items),
		slog.String("amount", summary.AmountDisplay()),
	)
}

func printSummary(result *models.CollectionResult, summary report.Summary, outputFile string) {
	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(100 * time.Millisecond)
	data := pterm.TableData{
		{"Run", result.RunID},
		{"Method", result.Method},
		{"Year", result.YearFilter},
		{"Outcome", outcomeLabel(result.Outcome)},
		{"Pages", strconv.Itoa(result.PageCount())},
		{"Matched orders", strconv.Itoa(result.MatchedOrders)},
		{"Orders", strconv.Itoa(summary.Orders)},
		{"Items", strconv.Itoa(summary.Items)},
		{"Total spent", summary.AmountDisplay()},
		{"Duration", elapsed.String()},
	}
	if result.PageCount() > 0 {
		data = append(data, []string{"Output", outputFile})
	}

	pterm.DefaultSection.Println("Collection summary")
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		slog.Debug("render summary", slog.Any("error", err))
	}
}

// outcomeLabel flags runs that stopped before the history was exhausted.
func outcomeLabel(outcome models.Outcome) string {
	if outcome.Failed() {
		return string(outcome) + " (partial)"
	}
	return string(outcome)
}

func printHeaders(source string, headers credentials.HeaderSet) {
	pterm.DefaultSection.Printf("Headers from %s", source)

	data := pterm.TableData{{"Header", "Value"}}
	for _, name := range headers.Names() {
		data = append(data, []string{name, truncate(headers[name], maxHeaderValue)})
	}
	if len(data) == 1 {
		pterm.Warning.Println("No headers could be derived.")
	} else if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		slog.Debug("render headers", slog.Any("error", err))
	}

	for _, name := range []string{credentials.HeaderCSRF, credentials.HeaderEncDat} {
		if headers[name] != "" {
			pterm.Success.Printf("%s present\n", name)
		}
	}
	for _, name := range headers.Missing() {
		pterm.Warning.Printf("%s missing\n", name)
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return fmt.Sprintf("%s... (%d chars)", value[:limit], len(value))
}
