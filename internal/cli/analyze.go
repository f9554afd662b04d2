package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"kestrel/internal/cache"
	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/pipeline"
	"kestrel/internal/reasoning"
	"kestrel/internal/store"
	"kestrel/internal/worker"
)

var (
	outJSON        string
	analyzeTimeout time.Duration
	provider       string
	modelName      string
	noCache        bool
	cacheDir       string
	simSeed        int64
	simSamples     int
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <bundle.yaml>",
	Short: "Analyze one case bundle and emit the forensic report",
	Long: `Analyze runs the four-phase pipeline over a case bundle:
- Constitutional verification of every document and fact locator
- Sequential analysis: asset mapping, concealment detection, behavioral
  patterns, and multi-method business valuation
- Adversarial self-correction of every provisional finding
- Strategic output: summary ladder, confidence dashboard, settlement
  simulation, discovery priorities, and immediate actions

Without --provider the reasoning passes record coverage gaps and the
deterministic passes still run.

Example:
  kestrel analyze case.yaml
  kestrel analyze case.yaml --provider openai --model gpt-4o-mini
  kestrel analyze case.yaml --provider ollama --json - | jq .findings`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	// Output flags
	analyzeCmd.Flags().StringVar(&outJSON, "json", "report.json", "report output path, - for stdout")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 30*time.Minute, "overall analysis timeout")

	// Reasoning flags
	analyzeCmd.Flags().StringVar(&provider, "provider", "", "reasoning provider (openai, anthropic, ollama)")
	analyzeCmd.Flags().StringVar(&modelName, "model", "", "reasoning model name")
	analyzeCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the reasoning response cache")
	analyzeCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "persist cached responses under this directory")

	// Simulation flags
	analyzeCmd.Flags().Int64Var(&simSeed, "seed", 0, "settlement simulation seed override")
	analyzeCmd.Flags().IntVar(&simSamples, "samples", 0, "settlement simulation sample count override")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	bundlePath := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	applyReasoningFlags(cfg)
	if cmd.Flags().Changed("seed") {
		cfg.Simulation.Seed = simSeed
	}
	if cmd.Flags().Changed("samples") {
		cfg.Simulation.Samples = simSamples
	}
	if err := resolveAPIKey(cfg); err != nil {
		return err
	}

	log, err := logging.New(cfg.Output.LogMode)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	st := store.NewMem()
	ask, err := buildAsker(st, log, cfg)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Analyzing: %s\n", bundlePath)
		if ask.Enabled() {
			fmt.Fprintf(os.Stderr, "Reasoning: %s/%s\n", ask.ProviderName(), cfg.Reasoning.Model)
		} else {
			fmt.Fprintf(os.Stderr, "Reasoning: disabled (deterministic passes only)\n")
		}
		fmt.Fprintln(os.Stderr)
	}

	o := pipeline.New(st, ask, log, cfg)
	rep, err := o.AnalyzeBundle(ctx, bundlePath)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if verbose {
		confirmed := 0
		for _, f := range rep.Findings {
			if f.Status == model.StatusConfirmed {
				confirmed++
			}
		}
		fmt.Fprintf(os.Stderr, "✓ %d findings confirmed, %d provisional, %d retracted\n",
			confirmed, len(rep.Findings)-confirmed, len(rep.AuditTrail))
		fmt.Fprintf(os.Stderr, "✓ %d coverage gaps, %d discovery priorities, %d immediate actions\n",
			len(rep.CoverageGaps), len(rep.Discovery), len(rep.Actions))
		if ask.Enabled() {
			fmt.Fprintf(os.Stderr, "✓ %d tokens used\n", ask.Tokens())
		}
		fmt.Fprintln(os.Stderr)
	}

	if err := writeReport(rep, outJSON); err != nil {
		return err
	}
	if verbose && outJSON != "-" {
		fmt.Fprintf(os.Stderr, "Report written: %s\n", outJSON)
	}
	return nil
}

// buildConfig resolves the effective configuration: defaults, then the
// config file viper located, then KESTREL_* environment variables. Flag
// overrides are applied by the command on top.
func buildConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()

	if path := viper.ConfigFileUsed(); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// KESTREL_PROVIDER, KESTREL_MODEL, KESTREL_BASE_URL, KESTREL_LOG_MODE.
	if v := viper.GetString("provider"); v != "" {
		cfg.Reasoning.Provider = v
	}
	if v := viper.GetString("model"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := viper.GetString("base_url"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := viper.GetString("log_mode"); v != "" {
		cfg.Output.LogMode = v
	}
	return cfg, nil
}

// applyReasoningFlags layers the shared reasoning and cache flags onto the
// resolved config. Unset flags leave the config value alone.
func applyReasoningFlags(cfg *model.Config) {
	if provider != "" {
		cfg.Reasoning.Provider = provider
	}
	if modelName != "" {
		cfg.Reasoning.Model = modelName
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}
	cfg.Output.Verbose = verbose
}

// resolveAPIKey pulls the provider credential from the environment when the
// config carries none. Ollama needs no key, only an optional base URL.
func resolveAPIKey(cfg *model.Config) error {
	if cfg.Reasoning.APIKey != "" {
		return nil
	}
	switch strings.ToLower(cfg.Reasoning.Provider) {
	case "openai":
		cfg.Reasoning.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.Reasoning.APIKey == "" {
			return errors.New("OPENAI_API_KEY environment variable not set")
		}
	case "anthropic", "claude":
		cfg.Reasoning.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.Reasoning.APIKey == "" {
			return errors.New("ANTHROPIC_API_KEY environment variable not set")
		}
	case "ollama":
		if base := os.Getenv("OLLAMA_BASE_URL"); base != "" && cfg.Reasoning.BaseURL == "" {
			cfg.Reasoning.BaseURL = base
		}
	}
	return nil
}

// buildAsker wires the provider, the shared rate-limit pool, and the
// response cache into the adapter. An empty provider name yields a disabled
// adapter; the pipeline then degrades phase by phase instead of failing.
func buildAsker(facts reasoning.FactChecker, log *logging.Logger, cfg *model.Config) (*reasoning.Adapter, error) {
	prov, err := reasoning.NewProvider(cfg.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("reasoning provider: %w", err)
	}

	var limiter *worker.Limiter
	var respCache cache.Cache
	if prov != nil {
		limiter = worker.NewLimiter(cfg.Reasoning.RatePerSecond, cfg.Reasoning.RateBurst)
		if cfg.Cache.Enabled {
			if cfg.Cache.Dir != "" {
				respCache = cache.NewLayeredCache(cfg.Cache.TTL, cfg.Cache.Dir, cfg.Cache.TTL)
			} else {
				respCache = cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
			}
		}
	}

	return reasoning.NewAdapter(prov, facts, limiter, log, reasoning.AdapterConfig{
		Reasoning: cfg.Reasoning,
		Cache:     respCache,
		CacheTTL:  cfg.Cache.TTL,
	}), nil
}

// writeReport marshals the report as indented JSON to path, or stdout when
// path is -.
func writeReport(rep *model.Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
