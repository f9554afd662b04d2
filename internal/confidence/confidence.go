// Package confidence derives confidence levels from evidence structure.
// Everything here is deterministic: the same facts and estimates always
// produce the same level, and no external call can move a level upward.
package confidence

import (
	"math"

	"kestrel/internal/model"
)

// methodSpreadCap is the relative disagreement between valuation
// methodologies above which a valuation finding cannot exceed Medium.
const methodSpreadCap = 0.25

// Engine assesses findings. Stateless.
type Engine struct{}

// NewEngine creates an engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Inputs is everything a level assessment may consider.
type Inputs struct {
	// Facts are the finding's cited facts, resolved from the ledger.
	Facts []model.ExtractedFact

	// Contradicted is set when self-correction surfaced a contradiction.
	Contradicted bool

	// SelfReportedUncertain is set when the reasoning response flagged its
	// own doubt. It forces Uncertain; its absence proves nothing.
	SelfReportedUncertain bool

	// Estimates holds all valuation estimates for the same asset when the
	// finding is a valuation.
	Estimates []model.ValuationEstimate
}

// Level computes the confidence level:
//   - contradiction or self-reported uncertainty forces Uncertain
//   - two or more independent facts reach High
//   - one independent fact with derivative corroboration reaches Medium
//   - a single bare fact stays Low
//   - valuation methodologies disagreeing beyond 25% cap the level at Medium
func (e *Engine) Level(in Inputs) model.ConfidenceLevel {
	if in.Contradicted || in.SelfReportedUncertain {
		return model.ConfidenceUncertain
	}
	return e.Ceiling(in)
}

// Ceiling is the evidence-based maximum for these inputs, ignoring forced
// uncertainty. Confirmation during self-correction may raise a finding one
// level but never past this.
func (e *Engine) Ceiling(in Inputs) model.ConfidenceLevel {
	level := baseLevel(in.Facts)

	if len(in.Estimates) >= 2 {
		if spread := MethodologySpread(in.Estimates); spread > methodSpreadCap {
			if level.Rank() > model.ConfidenceMedium.Rank() {
				level = model.ConfidenceMedium
			}
		}
	}
	return level
}

func baseLevel(facts []model.ExtractedFact) model.ConfidenceLevel {
	n := len(facts)
	if n == 0 {
		return model.ConfidenceUncertain
	}

	switch independent := IndependentCount(facts); {
	case independent >= 2:
		return model.ConfidenceHigh
	case independent == 1 && n > 1:
		// One independent fact plus derivative or overlapping corroboration.
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// IndependentCount counts facts that corroborate each other independently:
// a greedy pass in recording order keeps each fact that is independent of
// every fact already kept. Deterministic for a fixed input order.
func IndependentCount(facts []model.ExtractedFact) int {
	var kept []model.ExtractedFact
	for _, f := range facts {
		ok := true
		for _, k := range kept {
			if !model.Independent(f, k) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, f)
		}
	}
	return len(kept)
}

// MethodologySpread measures how much valuation methodologies disagree:
// (max point - min point) / mean(|point|). Zero when all estimates agree
// or fewer than two exist.
func MethodologySpread(estimates []model.ValuationEstimate) float64 {
	if len(estimates) < 2 {
		return 0
	}

	lo := estimates[0].Point
	hi := estimates[0].Point
	var absSum float64
	for _, est := range estimates {
		lo = math.Min(lo, est.Point)
		hi = math.Max(hi, est.Point)
		absSum += math.Abs(est.Point)
	}

	mean := absSum / float64(len(estimates))
	if mean == 0 {
		if hi == lo {
			return 0
		}
		return math.Inf(1)
	}
	return (hi - lo) / mean
}
