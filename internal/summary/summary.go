// Package summary builds the report's chain-of-density ladder from the
// confirmed finding set. Level 0 enumerates every confirmed finding; each
// later level fuses the same claims into less text without losing a single
// citation. Reasoning may propose a denser wording, but a proposal that
// grows the text or drifts from the citation set is discarded, so the
// ladder's guarantees never depend on model behavior.
package summary

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

// Asker is the slice of the reasoning adapter the builder consumes.
type Asker interface {
	Enabled() bool
	Ask(ctx context.Context, schema reasoning.Schema, prompt string) (reasoning.Payload, error)
}

// CitationChecker is the ledger surface used to re-validate the final level.
type CitationChecker interface {
	MissingCitations(ids []model.FactID) []model.FactID
}

// defaultDenseRounds bounds how many reasoning re-phrasings are attempted.
// The first rejected proposal stops the ladder regardless.
const defaultDenseRounds = 2

// Builder assembles summary levels. Construction keeps the two ladder
// invariants by refusing any level that is not strictly shorter than the
// last or that changes the citation union.
type Builder struct {
	ask         Asker
	check       CitationChecker
	log         *logging.Logger
	denseRounds int
}

// NewBuilder creates a summary builder. ask may be a disabled adapter, in
// which case only the deterministic levels are produced.
func NewBuilder(ask Asker, check CitationChecker, log *logging.Logger) *Builder {
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{
		ask:         ask,
		check:       check,
		log:         log,
		denseRounds: defaultDenseRounds,
	}
}

// Build returns the ladder for the confirmed findings among the given set.
// Every level cites exactly the union of the confirmed findings' citations;
// the final level is re-validated against the ledger before return.
func (b *Builder) Build(ctx context.Context, c model.Case, findings []model.Finding) ([]model.SummaryLevel, error) {
	confirmed := confirmedOnly(findings)
	if len(confirmed) == 0 {
		return []model.SummaryLevel{{
			Level: 0,
			Text:  "No findings were confirmed by self-correction.",
		}}, nil
	}

	union := citationUnion(confirmed)

	levels := []model.SummaryLevel{{
		Level:     0,
		Text:      enumerate(confirmed),
		Citations: slices.Clone(union),
	}}

	for _, fused := range []string{fuseByKind(confirmed), fuseFlat(confirmed)} {
		last := levels[len(levels)-1]
		if fused == "" || len(fused) >= len(last.Text) {
			continue
		}
		levels = append(levels, model.SummaryLevel{
			Level:     last.Level + 1,
			Text:      fused,
			Citations: slices.Clone(union),
		})
	}

	levels, err := b.densify(ctx, c, levels, union)
	if err != nil {
		return nil, err
	}

	final := levels[len(levels)-1]
	if missing := b.check.MissingCitations(final.Citations); len(missing) > 0 {
		return nil, fmt.Errorf("summary level %d cites unknown fact %s: %w",
			final.Level, missing[0], reasoning.ErrSchemaViolation)
	}
	return levels, nil
}

// densify extends the ladder with reasoning-proposed re-phrasings. Each
// proposal must be strictly shorter than the last level and cite exactly
// the level-0 union; the first miss on either count ends the ladder.
func (b *Builder) densify(ctx context.Context, c model.Case, levels []model.SummaryLevel, union []model.FactID) ([]model.SummaryLevel, error) {
	if !b.ask.Enabled() {
		return levels, nil
	}

	for round := 0; round < b.denseRounds; round++ {
		last := levels[len(levels)-1]

		payload, err := b.ask.Ask(ctx, denseSchema, densePrompt(c, last, union))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, reasoning.ErrNoProvider) {
				return levels, nil
			}
			b.log.Warn("summary densification failed", "level", last.Level, "error", err)
			return levels, nil
		}

		p := payload.(*densePayload)
		text := strings.TrimSpace(p.Text)
		if len(text) >= len(last.Text) {
			b.log.Debug("denser summary discarded, did not shrink",
				"proposed", len(text), "current", len(last.Text))
			return levels, nil
		}
		if !sameCitationSet(p.Facts, union) {
			b.log.Warn("denser summary discarded, citation set changed", "level", last.Level)
			return levels, nil
		}

		levels = append(levels, model.SummaryLevel{
			Level:     last.Level + 1,
			Text:      text,
			Citations: slices.Clone(union),
		})
	}
	return levels, nil
}

func confirmedOnly(findings []model.Finding) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if f.Status == model.StatusConfirmed && f.Valid() {
			out = append(out, f)
		}
	}
	return out
}

// citationUnion collects every cited fact once, in first-seen order, so the
// union is stable across levels and runs.
func citationUnion(findings []model.Finding) []model.FactID {
	seen := make(map[model.FactID]bool)
	var union []model.FactID
	for _, f := range findings {
		for _, id := range f.Citations {
			if seen[id] {
				continue
			}
			seen[id] = true
			union = append(union, id)
		}
	}
	return union
}

func sameCitationSet(got, want []model.FactID) bool {
	if len(got) == 0 {
		return len(want) == 0
	}
	gotSet := make(map[model.FactID]bool, len(got))
	for _, id := range got {
		gotSet[id] = true
	}
	if len(gotSet) != len(want) {
		return false
	}
	for _, id := range want {
		if !gotSet[id] {
			return false
		}
	}
	return true
}

// enumerate is level 0: every confirmed finding verbatim, one numbered line
// each, in confirmation order.
func enumerate(findings []model.Finding) string {
	var sb strings.Builder
	for i, f := range findings {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, f.Statement)
	}
	return sb.String()
}

// kindOrder fixes the fusion ordering so identical finding sets always fuse
// to identical text.
var kindOrder = []model.FindingKind{
	model.KindAsset,
	model.KindConcealment,
	model.KindBehavioral,
	model.KindValuation,
}

var kindLabels = map[model.FindingKind]string{
	model.KindAsset:       "Assets",
	model.KindConcealment: "Concealment",
	model.KindBehavioral:  "Conduct",
	model.KindValuation:   "Valuations",
}

// fuseByKind groups claim kernels under a label per finding kind.
func fuseByKind(findings []model.Finding) string {
	byKind := make(map[model.FindingKind][]string)
	for _, f := range findings {
		byKind[f.Kind] = append(byKind[f.Kind], kernel(f.Statement))
	}

	var parts []string
	for _, k := range kindOrder {
		if kernels := byKind[k]; len(kernels) > 0 {
			parts = append(parts, kindLabels[k]+": "+strings.Join(kernels, "; ")+".")
		}
	}
	return strings.Join(parts, " ")
}

// fuseFlat drops the kind labels and runs every kernel together. Strictly
// shorter than the labeled fusion whenever any findings exist.
func fuseFlat(findings []model.Finding) string {
	byKind := make(map[model.FindingKind][]string)
	for _, f := range findings {
		byKind[f.Kind] = append(byKind[f.Kind], kernel(f.Statement))
	}

	var kernels []string
	for _, k := range kindOrder {
		kernels = append(kernels, byKind[k]...)
	}
	if len(kernels) == 0 {
		return ""
	}
	return strings.Join(kernels, "; ") + "."
}

// boilerplate lists lead-in phrases that carry no claim content. Matching
// is case-insensitive and repeated until the statement stops shrinking.
var boilerplate = []string{
	"the evidence shows that ",
	"the evidence shows ",
	"the documents show that ",
	"the documents show ",
	"the records indicate that ",
	"the records indicate ",
	"analysis indicates that ",
	"analysis indicates ",
	"it appears that ",
	"based on the cited evidence, ",
	"based on the evidence, ",
}

// kernel strips boilerplate lead-ins and the closing period, leaving the
// claim itself. A statement that is all boilerplate survives untouched.
func kernel(statement string) string {
	s := strings.TrimSpace(statement)
	for {
		lower := strings.ToLower(s)
		trimmed := s
		for _, p := range boilerplate {
			if strings.HasPrefix(lower, p) {
				trimmed = strings.TrimSpace(s[len(p):])
				break
			}
		}
		if trimmed == s || trimmed == "" {
			break
		}
		s = trimmed
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return strings.TrimSpace(statement)
	}
	return s
}
