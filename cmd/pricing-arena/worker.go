package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terra-clan/pricing-arena/internal/config"
	"github.com/terra-clan/pricing-arena/internal/sandbox"
)

const workerCommand = "predict-worker"

var workerCmd = &cobra.Command{
	Use:    workerCommand,
	Short:  "Evaluate one predictor request from stdin (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sandbox.RunWorker(cmd.Context(), os.Stdin, os.Stdout)
	},
}

// newIsolatedEvaluator runs predictors in workers spawned from this executable
func newIsolatedEvaluator(cfg config.PredictorConfig) (*sandbox.IsolatedEvaluator, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable for predictor workers: %w", err)
	}

	return sandbox.NewIsolatedEvaluator(sandbox.IsolatedConfig{
		Config: sandbox.Config{
			CallTimeout:    cfg.CallTimeout,
			CompileTimeout: cfg.CompileTimeout,
			MaxSourceBytes: cfg.MaxSourceBytes,
		},
		Command:     self,
		Args:        []string{workerCommand},
		MemoryLimit: int64(cfg.MemoryLimitMB) << 20,
	}), nil
}
