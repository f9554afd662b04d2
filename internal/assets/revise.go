package assets

import (
	"context"
	"fmt"
	"strings"

	"kestrel/internal/confidence"
	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

type revisionPayload struct {
	Statement string         `json:"statement"`
	Facts     []model.FactID `json:"facts"`
	Uncertain bool           `json:"uncertain,omitempty"`
}

func (p *revisionPayload) Validate() error {
	if p.Statement == "" {
		return fmt.Errorf("empty statement")
	}
	if len(p.Facts) == 0 {
		return fmt.Errorf("no supporting facts")
	}
	return nil
}

func (p *revisionPayload) CitedFacts() []model.FactID { return p.Facts }

var revisionSchema = reasoning.Schema{
	Name: "finding_revision",
	Shape: `{
  "statement": "the repaired finding, or a narrower one the evidence supports",
  "facts": ["fact-id"],
  "uncertain": false
}`,
	New: func() reasoning.Payload { return &revisionPayload{} },
}

// Reanalyze re-enters analysis for one demoted finding: same ledger, the
// challenge rationale on the table. The finding keeps its identity and kind;
// statement, citations, confidence, and any tier are rebuilt. The caller
// owns the round budget.
func (e *Engine) Reanalyze(ctx context.Context, c model.Case, docs []model.Document, f model.Finding, challenge string) (model.Finding, error) {
	if !e.ask.Enabled() {
		return model.Finding{}, reasoning.ErrNoProvider
	}

	prompt := revisionPrompt(c, f, challenge, e.allFacts(docs))

	revised := f
	revised.Revision = f.Revision + 1
	revised.Status = model.StatusProvisional
	revised.StatusReason = ""
	revised.CreatedAt = e.now()

	if f.Kind == model.KindValuation && f.Valuation != nil {
		payload, err := e.ask.Ask(ctx, valuationSchema, prompt)
		if err != nil {
			return model.Finding{}, err
		}
		v := payload.(*valuationPayload)
		revised.Statement = v.Statement
		revised.Citations = v.Facts
		revised.SelfReportedUncertain = v.Uncertain
		est := model.ValuationEstimate{
			AssetID: f.Valuation.AssetID,
			Method:  f.Valuation.Method,
			Point:   v.Point,
			Low:     v.Low,
			High:    v.High,
		}
		revised.Valuation = &est
	} else {
		payload, err := e.ask.Ask(ctx, revisionSchema, prompt)
		if err != nil {
			return model.Finding{}, err
		}
		v := payload.(*revisionPayload)
		revised.Statement = v.Statement
		revised.Citations = v.Facts
		revised.SelfReportedUncertain = v.Uncertain
	}

	resolved := e.resolve(revised.Citations)
	revised.Confidence = e.conf.Level(confidence.Inputs{
		Facts:                 resolved,
		SelfReportedUncertain: revised.SelfReportedUncertain,
	})
	if revised.Valuation != nil {
		revised.Valuation.Confidence = revised.Confidence
	}
	if revised.Concealment != nil {
		revised.Concealment = &model.ConcealmentFlag{
			Scheme: revised.Concealment.Scheme,
			Tier:   TierFor(revised.Concealment.Scheme, confidence.IndependentCount(resolved)),
		}
	}
	return revised, nil
}

func revisionPrompt(c model.Case, f model.Finding, challenge string, facts []model.ExtractedFact) string {
	var b strings.Builder
	b.WriteString(`A finding was challenged during review. Re-examine it against the facts below: repair it, narrow it to what the evidence supports, or restate it with better citations. Cite only the listed fact ids.

`)
	b.WriteString(caseHeader(c))
	fmt.Fprintf(&b, "\nOriginal finding [%s]:\n%s\n\nChallenge:\n%s\n", f.Kind, f.Statement, challenge)
	if f.Valuation != nil {
		fmt.Fprintf(&b, "\nKeep the %s methodology.\n", f.Valuation.Method)
	}
	b.WriteString("\nFacts:\n")
	b.WriteString(factLines(facts))
	return b.String()
}
