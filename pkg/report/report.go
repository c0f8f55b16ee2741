// Package report generates post-run artifacts: a markdown report and a
// summary CSV written under the assets directory and registered through
// the storage gateway. Report generation is strictly fire-and-forget; its
// failures are logged and never alter run state.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adamd9/thelastquiz/pkg/costs"
	"github.com/adamd9/thelastquiz/pkg/quiz"
	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Asset type values registered by the generator.
const (
	AssetTypeReport  = "report"
	AssetTypeSummary = "summary"
)

// Trigger is the contract between the run engine and report generation.
// Generate is invoked at most once per terminal transition, after the
// terminal status is durably persisted. Implementations must tolerate
// being re-triggered for the same run.
type Trigger interface {
	Generate(ctx context.Context, runID string) error
}

// noopTrigger is used when reporting is disabled.
type noopTrigger struct{}

func (noopTrigger) Generate(context.Context, string) error { return nil }

// NewNoopTrigger returns a trigger that does nothing.
func NewNoopTrigger() Trigger { return noopTrigger{} }

// Generator renders run reports onto disk and registers them as assets.
type Generator struct {
	log       logrus.FieldLogger
	gateway   storage.Gateway
	assetsDir string
	uploader  Uploader
}

// Compile-time interface check.
var _ Trigger = (*Generator)(nil)

// NewGenerator creates a report generator rooted at assetsDir. The
// uploader is optional; pass nil to keep assets local only.
func NewGenerator(
	log logrus.FieldLogger,
	gateway storage.Gateway,
	assetsDir string,
	uploader Uploader,
) *Generator {
	return &Generator{
		log:       log.WithField("component", "report"),
		gateway:   gateway,
		assetsDir: assetsDir,
		uploader:  uploader,
	}
}

// runDir returns the asset directory for one run.
func (g *Generator) runDir(runID string) string {
	return filepath.Join(g.assetsDir, runID, "reports")
}

// Generate builds the report artifacts for a terminal run. Re-triggering
// replaces previous artifacts: stale asset rows are deleted before the
// fresh ones are registered.
func (g *Generator) Generate(ctx context.Context, runID string) error {
	run, err := g.gateway.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	record, err := g.gateway.GetQuiz(ctx, run.QuizID)
	if err != nil {
		return fmt.Errorf("loading quiz: %w", err)
	}

	q, err := quiz.ParseJSON([]byte(record.QuizJSON))
	if err != nil {
		return fmt.Errorf("decoding quiz document: %w", err)
	}

	results, err := g.gateway.ListResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading results: %w", err)
	}

	dir := g.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	if err := g.gateway.DeleteAssets(ctx, runID); err != nil {
		return fmt.Errorf("clearing previous assets: %w", err)
	}

	summary := costs.Summarize(results)

	reportPath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(
		reportPath, []byte(renderMarkdown(run, q, results, summary)), 0o644,
	); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	csvPath := filepath.Join(dir, "summary.csv")
	if err := writeSummaryCSV(csvPath, results); err != nil {
		return fmt.Errorf("writing summary csv: %w", err)
	}

	now := time.Now().UTC()

	assets := []storage.Asset{
		{RunID: runID, Type: AssetTypeReport, Variant: "markdown", Path: reportPath, CreatedAt: now},
		{RunID: runID, Type: AssetTypeSummary, Variant: "csv", Path: csvPath, CreatedAt: now},
	}

	for i := range assets {
		if err := g.gateway.PutAsset(ctx, &assets[i]); err != nil {
			return fmt.Errorf("registering asset: %w", err)
		}
	}

	if g.uploader != nil {
		if err := g.uploader.Upload(ctx, filepath.Join(g.assetsDir, runID)); err != nil {
			g.log.WithError(err).
				WithField("run_id", runID).
				Warn("Mirroring report assets")
		}
	}

	g.log.WithFields(logrus.Fields{
		"run_id": runID,
		"assets": len(assets),
	}).Info("Report generated")

	return nil
}

// renderMarkdown builds the human-readable run report.
func renderMarkdown(
	run *storage.Run,
	q *quiz.Quiz,
	results []storage.Result,
	summary *costs.Summary,
) string {
	byKey := make(map[string]*storage.Result, len(results))
	for i := range results {
		byKey[results[i].ModelID+"/"+results[i].QuestionID] = &results[i]
	}

	models := append([]string(nil), run.Models...)
	sort.Strings(models)

	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", q.Title)
	fmt.Fprintf(&b, "Run `%s` finished %s with status **%s**.\n\n",
		run.RunID, run.UpdatedAt.Format(time.RFC3339), run.Status)

	if run.Error != "" {
		fmt.Fprintf(&b, "Failure reason: %s\n\n", run.Error)
	}

	b.WriteString("## Outcomes\n\n| Question |")

	for _, model := range models {
		fmt.Fprintf(&b, " %s |", model)
	}

	b.WriteString("\n|---|")

	for range models {
		b.WriteString("---|")
	}

	b.WriteString("\n")

	for _, question := range q.Questions {
		fmt.Fprintf(&b, "| %s |", question.ID)

		for _, model := range models {
			b.WriteString(" " + outcomeCell(byKey[model+"/"+question.ID]) + " |")
		}

		b.WriteString("\n")
	}

	b.WriteString("\n## Reasoning\n")

	for _, question := range q.Questions {
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", question.ID, question.Text)

		for _, model := range models {
			res, ok := byKey[model+"/"+question.ID]
			if !ok || res.Reasoning == "" {
				continue
			}

			fmt.Fprintf(&b, "\n- **%s**: %s\n", model, res.Reasoning)
		}
	}

	b.WriteString("\n## Cost\n\n")

	if summary.Total != nil {
		fmt.Fprintf(&b, "Estimated total: $%.6f\n", *summary.Total)
	} else {
		b.WriteString("No pricing information was available for this run.\n")
	}

	if len(summary.MissingPricing) > 0 {
		fmt.Fprintf(&b, "\nModels without pricing: %s\n",
			strings.Join(summary.MissingPricing, ", "))
	}

	return b.String()
}

// outcomeCell renders one model/question intersection for the table.
func outcomeCell(res *storage.Result) string {
	switch {
	case res == nil:
		return "-"
	case res.Error != nil:
		return "error (" + res.Error.Kind + ")"
	case res.Refused:
		return "refused"
	default:
		return res.Answer
	}
}

// writeSummaryCSV emits one row per result for spreadsheet analysis.
func writeSummaryCSV(path string, results []storage.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"model_id", "question_id", "answer", "refused",
		"latency_ms", "prompt_tokens", "completion_tokens", "cost", "error",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i := range results {
		res := &results[i]

		cost := ""
		if res.Cost != nil {
			cost = strconv.FormatFloat(*res.Cost, 'f', -1, 64)
		}

		errKind := ""
		if res.Error != nil {
			errKind = res.Error.Kind
		}

		row := []string{
			res.ModelID,
			res.QuestionID,
			res.Answer,
			strconv.FormatBool(res.Refused),
			strconv.FormatInt(res.LatencyMS, 10),
			strconv.Itoa(res.PromptTokens),
			strconv.Itoa(res.CompletionTokens),
			cost,
			errKind,
		}

		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}
