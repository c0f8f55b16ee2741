package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adamd9/thelastquiz/pkg/quiz"
	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	runQuizFile string
	runModels   []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a quiz against a set of models and wait for results",
	Long: `Register a quiz document, run it once against the given models and
wait for the run to finish. Results and reports are persisted the same way
the server persists them.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runQuizFile, "quiz", "", "quiz document (json or yaml)")
	runCmd.Flags().StringSliceVar(&runModels, "model", nil, "model id (repeatable)")

	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	if runQuizFile == "" {
		return fmt.Errorf("quiz file is required (use --quiz)")
	}

	if len(runModels) == 0 {
		return fmt.Errorf("at least one model is required (use --model)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(runQuizFile)
	if err != nil {
		return fmt.Errorf("reading quiz file: %w", err)
	}

	var q *quiz.Quiz

	switch strings.ToLower(filepath.Ext(runQuizFile)) {
	case ".yaml", ".yml":
		q, err = quiz.ParseYAML(data)
	default:
		q, err = quiz.ParseJSON(data)
	}

	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.shutdown(context.Background())

	doc, err := q.JSON()
	if err != nil {
		return err
	}

	if err := comps.gateway.PutQuiz(ctx, &storage.QuizRecord{
		QuizID:    q.ID,
		Title:     q.Title,
		Source:    q.Source,
		QuizJSON:  doc,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("registering quiz: %w", err)
	}

	run, err := comps.engine.CreateRun(ctx, q.ID, runModels, storage.RunSettings{})
	if err != nil {
		return err
	}

	if err := comps.engine.StartRun(ctx, run.RunID); err != nil {
		return err
	}

	log.WithField("run_id", run.RunID).Info("Run started, waiting")

	comps.engine.Wait()

	final, err := comps.gateway.GetRun(ctx, run.RunID)
	if err != nil {
		return err
	}

	summary, err := comps.engine.CostSummary(ctx, run.RunID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s\n", final.RunID, final.Status)

	if final.Error != "" {
		fmt.Printf("  reason: %s\n", final.Error)
	}

	if summary.Total != nil {
		fmt.Printf("  estimated cost: $%.6f\n", *summary.Total)
	}

	if len(summary.MissingPricing) > 0 {
		fmt.Printf("  models without pricing: %s\n",
			strings.Join(summary.MissingPricing, ", "))
	}

	if final.Status != storage.StatusCompleted {
		os.Exit(1)
	}

	return nil
}
