package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"sync/atomic"
	"time"

	"kestrel/internal/cache"
	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/worker"
)

// FactChecker verifies citations against the evidence ledger.
type FactChecker interface {
	MissingCitations(ids []model.FactID) []model.FactID
}

// constitution is the standing system prompt for every reasoning call. The
// output rules here are enforced mechanically afterwards; the prompt only
// raises the odds of a usable first response.
const constitution = `You are a forensic financial analyst assisting a family-law team with asset discovery.

Rules that are mechanically enforced on your output:
1. Cite evidence ONLY by the fact ids provided in the prompt. A fact id you invent fails the entire response.
2. Respond with a single JSON object of the requested shape. No prose before or after, no markdown fences.
3. When evidence is insufficient, say so in the fields provided for that instead of guessing.
4. Set "uncertain": true whenever you are not sure. Overclaiming is treated as an error; honest uncertainty is not.`

const (
	defaultTemperature = 0.1
	maxBackoff         = 10 * time.Second
)

// sleepFunc is replaced in tests to avoid real backoff delays.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AdapterConfig bundles the adapter's knobs.
type AdapterConfig struct {
	Reasoning model.ReasoningConfig
	Cache     cache.Cache // nil disables response caching
	CacheTTL  time.Duration
}

// Adapter wraps a provider with the full call discipline: rate limiting,
// response caching, per-call timeouts, transient retries with jittered
// backoff, schema validation, and the citation check against the ledger.
// Phase modules never talk to a Provider directly.
type Adapter struct {
	provider   Provider
	facts      FactChecker
	limiter    *worker.Limiter
	respCache  cache.Cache
	cacheTTL   time.Duration
	log        *logging.Logger
	modelName  string
	maxTokens  int
	maxRetries int
	timeout    time.Duration

	tokens atomic.Int64
}

// NewAdapter creates an adapter. A nil provider is allowed and makes Ask
// fail with ErrNoProvider, which callers treat as "reasoning disabled".
func NewAdapter(provider Provider, facts FactChecker, limiter *worker.Limiter, log *logging.Logger, cfg AdapterConfig) *Adapter {
	if log == nil {
		log = logging.Nop()
	}
	maxRetries := cfg.Reasoning.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Adapter{
		provider:   provider,
		facts:      facts,
		limiter:    limiter,
		respCache:  cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		log:        log,
		modelName:  cfg.Reasoning.Model,
		maxTokens:  cfg.Reasoning.MaxTokens,
		maxRetries: maxRetries,
		timeout:    providerTimeout(cfg.Reasoning.Timeout, 60*time.Second),
	}
}

// Enabled reports whether a provider is configured.
func (a *Adapter) Enabled() bool {
	return a != nil && a.provider != nil
}

// ProviderName returns the active provider's name, or "" when disabled.
func (a *Adapter) ProviderName() string {
	if !a.Enabled() {
		return ""
	}
	return a.provider.Name()
}

// Available checks the provider end to end.
func (a *Adapter) Available(ctx context.Context) bool {
	if !a.Enabled() {
		return false
	}
	return a.provider.IsAvailable(ctx)
}

// Tokens returns the cumulative token count across all calls.
func (a *Adapter) Tokens() int64 {
	return a.tokens.Load()
}

// Ask sends one prompt and returns the validated payload. A schema
// violation is retried exactly once with the shape restated; transient
// upstream failures are retried up to the configured budget with
// exponential backoff.
func (a *Adapter) Ask(ctx context.Context, schema Schema, prompt string) (Payload, error) {
	if !a.Enabled() {
		return nil, ErrNoProvider
	}

	key := cache.Key(a.provider.Name(), a.modelName, schema.Name, prompt)
	if a.respCache != nil {
		if raw, ok := a.respCache.Get(key); ok {
			if payload, err := a.decode(schema, string(raw)); err == nil {
				a.log.Debug("reasoning cache hit", "schema", schema.Name)
				return payload, nil
			}
			// The cached text no longer decodes, likely a payload shape
			// change since it was stored.
			_ = a.respCache.Delete(key)
		}
	}

	req := CompletionRequest{
		System:      constitution,
		Prompt:      prompt,
		Model:       a.modelName,
		MaxTokens:   a.maxTokens,
		Temperature: defaultTemperature,
	}

	payload, raw, err := a.askOnce(ctx, schema, req)
	if err != nil && errors.Is(err, ErrSchemaViolation) {
		a.log.Warn("response rejected, restating shape",
			"schema", schema.Name,
			"cause", err.Error(),
		)
		req.Prompt = reinforce(prompt, schema, err)
		payload, raw, err = a.askOnce(ctx, schema, req)
	}
	if err != nil {
		return nil, err
	}

	if a.respCache != nil {
		_ = a.respCache.Set(key, []byte(raw), a.cacheTTL)
	}
	return payload, nil
}

// askOnce performs one logical call with transient retries. A schema
// violation is terminal here; Ask owns the single reformulation retry.
func (a *Adapter) askOnce(ctx context.Context, schema Schema, req CompletionRequest) (Payload, string, error) {
	var lastErr error

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, retryAfterHint(lastErr))
			a.log.Debug("retrying reasoning call",
				"schema", schema.Name,
				"attempt", attempt,
				"delay", delay.String(),
			)
			if err := sleepFunc(ctx, delay); err != nil {
				return nil, "", err
			}
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx, a.provider.Name()); err != nil {
				return nil, "", err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		comp, err := a.provider.Complete(callCtx, req)
		cancel()

		if err != nil {
			// The phase budget or caller cancellation outranks retries.
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			if isRetryable(err) && attempt < a.maxRetries {
				lastErr = err
				continue
			}
			return nil, "", err
		}

		a.tokens.Add(int64(comp.TokensUsed))

		payload, derr := a.decode(schema, comp.Text)
		if derr != nil {
			return nil, "", derr
		}
		return payload, comp.Text, nil
	}

	return nil, "", lastErr
}

// decode turns raw completion text into a validated payload. Every path out
// of here with an error carries ErrSchemaViolation.
func (a *Adapter) decode(schema Schema, text string) (Payload, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in response: %w", ErrSchemaViolation)
	}

	payload := schema.New()
	if err := json.Unmarshal([]byte(raw), payload); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", schema.Name, err, ErrSchemaViolation)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %v: %w", schema.Name, err, ErrSchemaViolation)
	}

	if a.facts != nil {
		if missing := a.facts.MissingCitations(payload.CitedFacts()); len(missing) > 0 {
			return nil, fmt.Errorf("CITATION LEAK: response cited unknown fact %s: %w", missing[0], ErrSchemaViolation)
		}
	}

	return payload, nil
}

// reinforce appends the rejection and the exact shape to the prompt for the
// single schema retry.
func reinforce(prompt string, schema Schema, cause error) string {
	return fmt.Sprintf("%s\n\nYour previous response was rejected: %v\nRespond with ONLY one JSON object of exactly this shape, no surrounding prose:\n%s",
		prompt, cause, schema.Shape)
}

// backoffDelay computes the wait before retry n (1-based): exponential from
// one second, capped, floored by any Retry-After hint, with 20% jitter so
// concurrent analyses do not retry in lockstep.
func backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > maxBackoff {
		d = maxBackoff
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d - d/5 + mrand.N(2*d/5)
}
