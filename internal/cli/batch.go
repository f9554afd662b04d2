package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/pipeline"
	"kestrel/internal/store"
	"kestrel/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	// provider, modelName, noCache, cacheDir are defined in analyze.go and shared here
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Analyze multiple case bundles in parallel",
	Long: `Batch analyzes every case bundle named in a manifest file, one path
per line (# comments and blank lines skipped, duplicates dropped):
- Cases run concurrently on a bounded worker pool
- The reasoning rate limit is shared across all of them
- One case failing never stops the others
- Each case gets its own JSON report in the output directory

Example:
  kestrel batch cases.txt
  kestrel batch cases.txt --concurrency 8 --output-dir ./reports
  kestrel batch cases.txt --provider ollama --model llama3.1`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Concurrency flags
	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent case analyses")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./kestrel-reports", "output directory for case reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "total timeout for the whole batch")

	// Reasoning flags shared with analyze
	batchCmd.Flags().StringVar(&provider, "provider", "", "reasoning provider (openai, anthropic, ollama)")
	batchCmd.Flags().StringVar(&modelName, "model", "", "reasoning model name")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the reasoning response cache")
	batchCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "persist cached responses under this directory")
}

func runBatch(cmd *cobra.Command, args []string) error {
	manifest := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	applyReasoningFlags(cfg)
	if err := resolveAPIKey(cfg); err != nil {
		return err
	}

	log, err := logging.New(cfg.Output.LogMode)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Kestrel Batch Analysis\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Manifest:     %s\n", manifest)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	if cfg.Reasoning.Provider != "" {
		fmt.Fprintf(os.Stderr, "  Reasoning:    %s/%s\n", cfg.Reasoning.Provider, cfg.Reasoning.Model)
	} else {
		fmt.Fprintf(os.Stderr, "  Reasoning:    disabled\n")
	}
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	st := store.NewMem()
	ask, err := buildAsker(st, log, cfg)
	if err != nil {
		return err
	}
	o := pipeline.New(st, ask, log, cfg)

	runner := worker.NewBatchRunner(o, concurrency)
	outcomes, err := runner.ProcessManifest(ctx, manifest)
	if err != nil {
		return err
	}

	succeeded := 0
	failed := 0
	for _, out := range outcomes {
		if out.Error != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", out.Path, out.Error)
			continue
		}

		path := filepath.Join(outputDir, reportFilename(out.Report.CaseID))
		if err := writeReport(out.Report, path); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", out.Path, err)
			continue
		}

		succeeded++
		confirmed := 0
		for _, f := range out.Report.Findings {
			if f.Status == model.StatusConfirmed {
				confirmed++
			}
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %d confirmed findings, %d gaps (%s)\n",
			out.Report.CaseID, confirmed, len(out.Report.CoverageGaps), path)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d cases\n", len(outcomes))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", succeeded)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failed)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(outcomes))
	}
	return nil
}

// reportFilename derives a safe output filename from the case id.
func reportFilename(id model.CaseID) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, string(id))
	if len(slug) > 100 {
		slug = slug[:100]
	}
	if slug == "" {
		slug = "case"
	}
	return slug + ".json"
}
