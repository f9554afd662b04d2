// Package redteam is the self-correction pass: every provisional finding
// faces one adversarial challenge restricted to the evidence it already
// cites. Confirmation can raise confidence one level under the evidence
// ceiling; contradiction demotes and sends the finding back to analysis;
// invalid evidence retracts it outright.
package redteam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kestrel/internal/confidence"
	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

// ErrRevisionExhausted marks a finding still contradicted after its last
// allowed revision round. The finding is retracted; the case continues.
var ErrRevisionExhausted = errors.New("revision budget exhausted")

// Challenge outcomes the reviewer accepts.
const (
	outcomeNoContradiction = "no_contradiction"
	outcomeContradiction   = "contradiction"
	outcomeEvidenceInvalid = "evidence_invalid"
)

// Asker is the slice of the reasoning adapter the reviewer consumes.
type Asker interface {
	Enabled() bool
	Ask(ctx context.Context, schema reasoning.Schema, prompt string) (reasoning.Payload, error)
}

// FactReader resolves citations and their recorded corrections.
type FactReader interface {
	GetFact(id model.FactID) (model.ExtractedFact, error)
	Corrections(id model.FactID) []model.ExtractedFact
}

type challengePayload struct {
	Outcome   string         `json:"outcome"`
	Rationale string         `json:"rationale"`
	Facts     []model.FactID `json:"facts,omitempty"`
	Uncertain bool           `json:"uncertain,omitempty"`
}

func (p *challengePayload) Validate() error {
	switch p.Outcome {
	case outcomeNoContradiction, outcomeContradiction, outcomeEvidenceInvalid:
	default:
		return fmt.Errorf("unknown outcome %q", p.Outcome)
	}
	if p.Rationale == "" {
		return fmt.Errorf("empty rationale")
	}
	return nil
}

func (p *challengePayload) CitedFacts() []model.FactID { return p.Facts }

var challengeSchema = reasoning.Schema{
	Name: "finding_challenge",
	Shape: `{
  "outcome": "no_contradiction|contradiction|evidence_invalid",
  "rationale": "why the finding survives or fails on this evidence",
  "facts": ["fact-id"],
  "uncertain": false
}`,
	New: func() reasoning.Payload { return &challengePayload{} },
}

// Pass is one review round over a queue of provisional findings.
type Pass struct {
	Confirmed  []model.Finding
	Demoted    []model.Finding // contradicted, eligible for another analysis round
	Retracted  []model.Finding
	Unresolved []model.Finding // challenge itself failed; finding stays provisional
	Gaps       []model.CoverageGap
}

// Reviewer runs adversarial review over findings.
type Reviewer struct {
	ask       Asker
	facts     FactReader
	conf      *confidence.Engine
	log       *logging.Logger
	maxRounds int
}

// NewReviewer creates a reviewer. maxRounds bounds how many times a
// contradicted finding may re-enter analysis before retraction.
func NewReviewer(ask Asker, facts FactReader, log *logging.Logger, maxRounds int) *Reviewer {
	if log == nil {
		log = logging.Nop()
	}
	if maxRounds < 0 {
		maxRounds = 0
	}
	return &Reviewer{
		ask:       ask,
		facts:     facts,
		conf:      confidence.NewEngine(),
		log:       log,
		maxRounds: maxRounds,
	}
}

// Review challenges each finding in the queue once. Findings whose
// challenge call fails stay provisional and surface as a coverage gap;
// review of the rest proceeds. Only cancellation aborts the pass.
func (r *Reviewer) Review(ctx context.Context, c model.Case, queue []model.Finding) (*Pass, error) {
	pass := &Pass{}
	estimates := estimatesByAsset(queue)

	for _, f := range queue {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resolved, missing := r.resolve(f.Citations)
		if len(missing) > 0 {
			f.Status = model.StatusRetracted
			f.StatusReason = fmt.Sprintf("cites facts absent from the ledger: %v", missing)
			pass.Retracted = append(pass.Retracted, f)
			continue
		}

		if !r.ask.Enabled() {
			pass.Unresolved = append(pass.Unresolved, f)
			pass.Gaps = append(pass.Gaps, r.gap(f, "reasoning provider unavailable"))
			continue
		}

		payload, err := r.ask.Ask(ctx, challengeSchema, challengePrompt(c, f, resolved, r.corrections(f.Citations)))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.log.Warn("challenge failed", "finding", string(f.ID), "error", err)
			pass.Unresolved = append(pass.Unresolved, f)
			pass.Gaps = append(pass.Gaps, r.gap(f, err.Error()))
			continue
		}

		r.apply(pass, f, payload.(*challengePayload), resolved, estimates[assetKey(f)])
	}
	return pass, nil
}

// apply folds one challenge verdict into the pass.
func (r *Reviewer) apply(pass *Pass, f model.Finding, verdict *challengePayload, resolved []model.ExtractedFact, siblings []model.ValuationEstimate) {
	switch verdict.Outcome {
	case outcomeNoContradiction:
		ceiling := r.conf.Ceiling(confidence.Inputs{Facts: resolved, Estimates: siblings})
		f.Status = model.StatusConfirmed
		f.StatusReason = verdict.Rationale
		if !f.SelfReportedUncertain && !verdict.Uncertain {
			f.Confidence = f.Confidence.RaiseOne(ceiling)
		}
		if f.Valuation != nil {
			f.Valuation.Confidence = f.Confidence
		}
		pass.Confirmed = append(pass.Confirmed, f)

	case outcomeContradiction:
		if f.Revision >= r.maxRounds {
			f.Status = model.StatusRetracted
			f.StatusReason = fmt.Sprintf("%s after %d rounds: %s", ErrRevisionExhausted, f.Revision, verdict.Rationale)
			pass.Retracted = append(pass.Retracted, f)
			pass.Gaps = append(pass.Gaps, r.gap(f, ErrRevisionExhausted.Error()))
			r.log.Warn("finding retracted", "finding", string(f.ID), "reason", "revision budget exhausted")
			return
		}
		f.Status = model.StatusDemoted
		f.StatusReason = verdict.Rationale
		f.Confidence = model.ConfidenceUncertain
		if f.Valuation != nil {
			f.Valuation.Confidence = f.Confidence
		}
		pass.Demoted = append(pass.Demoted, f)

	case outcomeEvidenceInvalid:
		f.Status = model.StatusRetracted
		f.StatusReason = verdict.Rationale
		pass.Retracted = append(pass.Retracted, f)
	}
}

func (r *Reviewer) gap(f model.Finding, reason string) model.CoverageGap {
	return model.CoverageGap{
		Phase:  model.PhaseSelfCorrection,
		Area:   "finding_challenge:" + string(f.ID),
		Reason: reason,
	}
}

func (r *Reviewer) resolve(ids []model.FactID) (found []model.ExtractedFact, missing []model.FactID) {
	for _, id := range ids {
		f, err := r.facts.GetFact(id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		found = append(found, f)
	}
	return found, missing
}

func (r *Reviewer) corrections(ids []model.FactID) []model.ExtractedFact {
	var out []model.ExtractedFact
	for _, id := range ids {
		out = append(out, r.facts.Corrections(id)...)
	}
	return out
}

func assetKey(f model.Finding) model.FindingID {
	if f.Valuation != nil {
		return f.Valuation.AssetID
	}
	return ""
}

// estimatesByAsset gathers sibling estimates so a valuation finding's
// ceiling sees the methodology disagreement cap.
func estimatesByAsset(findings []model.Finding) map[model.FindingID][]model.ValuationEstimate {
	out := make(map[model.FindingID][]model.ValuationEstimate)
	for _, f := range findings {
		if f.Valuation != nil {
			out[f.Valuation.AssetID] = append(out[f.Valuation.AssetID], *f.Valuation)
		}
	}
	return out
}

func challengePrompt(c model.Case, f model.Finding, facts, corrections []model.ExtractedFact) string {
	var b strings.Builder
	b.WriteString(`Attack the finding below using only the evidence listed. Decide one outcome:
- "no_contradiction" when the evidence supports the finding as stated,
- "contradiction" when the listed facts genuinely conflict with the finding,
- "evidence_invalid" when a cited fact does not say what the finding claims it says.
Cite the fact ids that ground your verdict. Do not introduce outside knowledge.

`)
	fmt.Fprintf(&b, "Case: %s (%s)\n\nFinding under review [%s, confidence %s]:\n%s\n",
		c.Name, c.Jurisdiction, f.Kind, f.Confidence, f.Statement)
	if f.Valuation != nil {
		fmt.Fprintf(&b, "Estimate: %s point %.2f range [%.2f, %.2f]\n",
			f.Valuation.Method, f.Valuation.Point, f.Valuation.Low, f.Valuation.High)
	}

	b.WriteString("\nCited evidence:\n")
	for _, fact := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", fact.ID, fact.Content)
	}
	if len(corrections) > 0 {
		b.WriteString("\nRecorded corrections contradicting cited facts:\n")
		for _, fact := range corrections {
			fmt.Fprintf(&b, "- %s (contradicts %s): %s\n", fact.ID, fact.Contradicts, fact.Content)
		}
	}
	return b.String()
}
