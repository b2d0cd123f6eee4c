package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/config"
	"github.com/terra-clan/pricing-arena/internal/models"
	"github.com/terra-clan/pricing-arena/internal/pipeline"
)

// scoreOptions configures an offline scoring run
type scoreOptions struct {
	CatalogPath    string
	PredictorPaths []string
	OutPath        string
	CallTimeout    time.Duration
	MemoryLimitMB  int
	SubmissionPath string
}

var scoreOpts scoreOptions

var scoreCmd = &cobra.Command{
	Use:   "score [flags] submission.csv",
	Short: "Score a price list offline",
	Long: `Score a price list against a catalog using local prediction function
sources. Prints the profit; --out writes the demand result as CSV.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogger(os.Stderr, config.LogConfig{Level: "warn", Format: "text"}); err != nil {
			return err
		}
		opts := scoreOpts
		opts.SubmissionPath = args[0]
		return runScore(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreOpts.CatalogPath, "catalog", "items.csv", "Product catalog CSV")
	scoreCmd.Flags().StringArrayVar(&scoreOpts.PredictorPaths, "predictor", nil, "Prediction function source (repeatable)")
	scoreCmd.Flags().StringVar(&scoreOpts.OutPath, "out", "", "Write estimated demand to this file")
	scoreCmd.Flags().DurationVar(&scoreOpts.CallTimeout, "call-timeout", time.Second, "Per-call predictor timeout")
	scoreCmd.Flags().IntVar(&scoreOpts.MemoryLimitMB, "memory-limit-mb", 512, "Memory a predictor worker may allocate")
	_ = scoreCmd.MarkFlagRequired("predictor")
}

func runScore(ctx context.Context, opts scoreOptions, stdout io.Writer) error {
	cat, err := catalog.Load(opts.CatalogPath)
	if err != nil {
		return err
	}

	var fns []*models.PredictionFunction
	for _, path := range opts.PredictorPaths {
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read predictor: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		fns = append(fns, &models.PredictionFunction{Username: name, Source: string(source)})
	}

	text, err := os.ReadFile(opts.SubmissionPath)
	if err != nil {
		return fmt.Errorf("failed to read submission: %w", err)
	}

	evaluator, err := newIsolatedEvaluator(config.PredictorConfig{
		CallTimeout:   opts.CallTimeout,
		MemoryLimitMB: opts.MemoryLimitMB,
	})
	if err != nil {
		return err
	}
	p := pipeline.New(cat, pipeline.NewIsolatedEstimator(evaluator))

	result, err := p.Run(ctx, string(text), fns)
	if err != nil {
		return err
	}

	if opts.OutPath != "" {
		if err := os.WriteFile(opts.OutPath, []byte(result.DemandText), 0o644); err != nil {
			return fmt.Errorf("failed to write demand: %w", err)
		}
	}

	fmt.Fprintf(stdout, "score: %d\n", result.Score)
	return nil
}
