package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"kestrel/internal/model"
)

// Analyzer runs a full analysis for one case bundle on disk.
type Analyzer interface {
	AnalyzeBundle(ctx context.Context, path string) (*model.Report, error)
}

// BundleTask analyzes one case bundle.
type BundleTask struct {
	Path     string
	Analyzer Analyzer
}

// Run executes the analysis.
func (t *BundleTask) Run(ctx context.Context) Outcome {
	report, err := t.Analyzer.AnalyzeBundle(ctx, t.Path)
	if err != nil {
		return &BundleOutcome{Path: t.Path, Error: err}
	}
	return &BundleOutcome{Path: t.Path, Report: report}
}

// BundleOutcome is the terminal state of one bundle analysis.
type BundleOutcome struct {
	Path   string
	Report *model.Report
	Error  error
}

// Err returns the analysis error, if any.
func (o *BundleOutcome) Err() error { return o.Error }

// BatchRunner analyzes multiple case bundles concurrently. One bundle
// failing never stops the others.
type BatchRunner struct {
	analyzer    Analyzer
	concurrency int
}

// NewBatchRunner creates a batch runner with the given concurrency.
func NewBatchRunner(analyzer Analyzer, concurrency int) *BatchRunner {
	return &BatchRunner{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

// ProcessPaths analyzes the given bundle paths concurrently.
func (b *BatchRunner) ProcessPaths(ctx context.Context, paths []string) []*BundleOutcome {
	if len(paths) == 0 {
		return []*BundleOutcome{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, path := range paths {
		pool.Submit(&BundleTask{Path: path, Analyzer: b.analyzer})
	}

	outcomes := pool.Wait()

	bundleOutcomes := make([]*BundleOutcome, len(outcomes))
	for i, o := range outcomes {
		bundleOutcomes[i] = o.(*BundleOutcome)
	}
	return bundleOutcomes
}

// ProcessManifest reads bundle paths from a manifest file and analyzes them.
func (b *BatchRunner) ProcessManifest(ctx context.Context, path string) ([]*BundleOutcome, error) {
	paths, err := ReadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return b.ProcessPaths(ctx, paths), nil
}

// ReadManifest reads bundle paths from a file, one per line. Blank lines
// and # comments are skipped, duplicates are dropped.
func ReadManifest(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = file.Close() }()

	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}

	return paths, nil
}
