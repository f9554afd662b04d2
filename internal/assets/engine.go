// Package assets is the sequential-analysis engine: asset universe mapping,
// concealment detection, behavioral patterns, and business valuation, run
// least-to-most over the evidence ledger. Reasoning proposes; deterministic
// code decides tiers, confidence, and apportionment arithmetic.
package assets

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/confidence"
	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/reasoning"
	"kestrel/internal/worker"
)

// Asker is the slice of the reasoning adapter this engine consumes.
type Asker interface {
	Enabled() bool
	Ask(ctx context.Context, schema reasoning.Schema, prompt string) (reasoning.Payload, error)
}

// FactReader is the ledger surface the engine reads.
type FactReader interface {
	FactsFor(docID model.DocumentID) iter.Seq[model.ExtractedFact]
	GetFact(id model.FactID) (model.ExtractedFact, error)
}

// Result is one sequential-analysis run: findings in least-to-most order
// plus the coverage gaps for sub-passes that could not complete.
type Result struct {
	Findings []model.Finding
	Gaps     []model.CoverageGap
}

// Engine runs the four sequential-analysis sub-passes. Sub-pass failures
// become coverage gaps; only cancellation aborts a run.
type Engine struct {
	ask           Asker
	facts         FactReader
	conf          *confidence.Engine
	log           *logging.Logger
	maxConcurrent int

	newID func() model.FindingID
	now   func() time.Time
}

// NewEngine creates the analysis engine. maxConcurrent bounds parallel
// inference during asset mapping and valuation.
func NewEngine(ask Asker, facts FactReader, log *logging.Logger, maxConcurrent int) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Engine{
		ask:           ask,
		facts:         facts,
		conf:          confidence.NewEngine(),
		log:           log,
		maxConcurrent: maxConcurrent,
		newID:         func() model.FindingID { return model.FindingID("finding-" + uuid.NewString()) },
		now:           time.Now,
	}
}

// Run executes the sub-passes in order: mapping, concealment, behavioral,
// valuation. Each consumes the previous pass's output plus raw facts.
func (e *Engine) Run(ctx context.Context, c model.Case, docs []model.Document) (*Result, error) {
	res := &Result{}

	behavioral := e.heuristicFindings(c, docs)

	if !e.ask.Enabled() {
		res.Findings = behavioral
		for _, area := range []string{"asset_mapping", "concealment_detection", "behavioral_patterns", "business_valuation"} {
			res.Gaps = append(res.Gaps, gap(area, "reasoning provider unavailable"))
		}
		return res, nil
	}

	assetFindings, figures := e.mapAssets(ctx, c, docs, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Findings = append(res.Findings, assetFindings...)

	res.Findings = append(res.Findings, e.detectConcealment(ctx, c, assetFindings, docs, res)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Findings = append(res.Findings, behavioral...)
	res.Findings = append(res.Findings, e.proposedPatterns(ctx, c, docs, res)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Findings = append(res.Findings, e.valueAssets(ctx, c, assetFindings, figures, docs, res)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

func gap(area, reason string) model.CoverageGap {
	return model.CoverageGap{
		Phase:  model.PhaseSequentialAnalysis,
		Area:   area,
		Reason: reason,
	}
}

// finish stamps identity and computes the deterministic confidence level
// from the cited evidence.
func (e *Engine) finish(f model.Finding, c model.Case, uncertain bool, estimates []model.ValuationEstimate) model.Finding {
	f.ID = e.newID()
	f.CaseID = c.ID
	f.CreatedAt = e.now()
	f.SelfReportedUncertain = uncertain

	f.Confidence = e.conf.Level(confidence.Inputs{
		Facts:                 e.resolve(f.Citations),
		SelfReportedUncertain: uncertain,
		Estimates:             estimates,
	})
	return f
}

func (e *Engine) resolve(ids []model.FactID) []model.ExtractedFact {
	out := make([]model.ExtractedFact, 0, len(ids))
	for _, id := range ids {
		f, err := e.facts.GetFact(id)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (e *Engine) allFacts(docs []model.Document) []model.ExtractedFact {
	var out []model.ExtractedFact
	for _, d := range docs {
		for f := range e.facts.FactsFor(d.ID) {
			out = append(out, f)
		}
	}
	return out
}

// groupByType splits documents into per-type groups in stable type order,
// so runs over the same bundle issue the same calls.
func groupByType(docs []model.Document) [][]model.Document {
	byType := make(map[model.DocumentType][]model.Document)
	for _, d := range docs {
		byType[d.Type] = append(byType[d.Type], d)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	groups := make([][]model.Document, 0, len(types))
	for _, t := range types {
		groups = append(groups, byType[model.DocumentType(t)])
	}
	return groups
}

// groupTask is one asset-mapping inference over a document-type group.
type groupTask struct {
	engine *Engine
	c      model.Case
	docs   []model.Document
}

type groupOutcome struct {
	docType model.DocumentType
	payload *assetMapPayload
	err     error
}

func (o *groupOutcome) Err() error { return o.err }

func (t *groupTask) Run(ctx context.Context) worker.Outcome {
	factsByDoc := make(map[model.DocumentID][]model.ExtractedFact, len(t.docs))
	for _, d := range t.docs {
		for f := range t.engine.facts.FactsFor(d.ID) {
			factsByDoc[d.ID] = append(factsByDoc[d.ID], f)
		}
	}

	payload, err := t.engine.ask.Ask(ctx, assetMapSchema, assetMapPrompt(t.c, t.docs, factsByDoc))
	if err != nil {
		return &groupOutcome{docType: t.docs[0].Type, err: err}
	}
	return &groupOutcome{docType: t.docs[0].Type, payload: payload.(*assetMapPayload)}
}

// mapAssets runs one inference per document-type group under the
// concurrency bound and converts entries to provisional asset findings.
// Apportionment figures ride alongside, keyed by the finding they value.
func (e *Engine) mapAssets(ctx context.Context, c model.Case, docs []model.Document, res *Result) ([]model.Finding, map[model.FindingID]apportionmentFigures) {
	groups := groupByType(docs)
	if len(groups) == 0 {
		res.Gaps = append(res.Gaps, gap("asset_mapping", "no documents in bundle"))
		return nil, nil
	}

	pool := worker.NewPool(ctx, e.maxConcurrent)
	pool.Start()
	for _, g := range groups {
		pool.Submit(&groupTask{engine: e, c: c, docs: g})
	}
	outcomes := pool.Wait()

	// Completion order varies with scheduling; sort for stable output.
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].(*groupOutcome).docType < outcomes[j].(*groupOutcome).docType
	})

	var findings []model.Finding
	figures := make(map[model.FindingID]apportionmentFigures)

	for _, o := range outcomes {
		g := o.(*groupOutcome)
		if g.err != nil {
			e.log.Warn("asset mapping group failed", "doc_type", string(g.docType), "error", g.err)
			res.Gaps = append(res.Gaps, gap("asset_mapping:"+string(g.docType), g.err.Error()))
			continue
		}
		for _, entry := range g.payload.Assets {
			f := e.finish(model.Finding{
				Kind:       model.KindAsset,
				Statement:  entry.Statement,
				Citations:  entry.Facts,
				Phase:      model.PhaseSequentialAnalysis,
				Status:     model.StatusProvisional,
				AssetClass: entry.Class,
			}, c, entry.Uncertain, nil)
			findings = append(findings, f)

			if entry.Apportionment != nil {
				figures[f.ID] = *entry.Apportionment
			}
		}
	}

	if len(findings) > 0 {
		e.log.Info("asset universe mapped", "assets", len(findings), "groups", len(groups))
	}
	return findings, figures
}

// detectConcealment issues one inference over the asset map plus all raw
// facts. Tier assignment happens here through the fixed matrix.
func (e *Engine) detectConcealment(ctx context.Context, c model.Case, assetFindings []model.Finding, docs []model.Document, res *Result) []model.Finding {
	payload, err := e.ask.Ask(ctx, concealmentSchema, concealmentPrompt(c, assetFindings, e.allFacts(docs)))
	if err != nil {
		e.log.Warn("concealment detection failed", "error", err)
		res.Gaps = append(res.Gaps, gap("concealment_detection", err.Error()))
		return nil
	}

	var findings []model.Finding
	for _, entry := range payload.(*concealmentPayload).Schemes {
		independent := confidence.IndependentCount(e.resolve(entry.Facts))
		f := e.finish(model.Finding{
			Kind:      model.KindConcealment,
			Statement: entry.Statement,
			Citations: entry.Facts,
			Phase:     model.PhaseSequentialAnalysis,
			Status:    model.StatusProvisional,
			Concealment: &model.ConcealmentFlag{
				Scheme: entry.Scheme,
				Tier:   TierFor(entry.Scheme, independent),
			},
		}, c, entry.Uncertain, nil)
		findings = append(findings, f)
	}
	return findings
}

// heuristicFindings runs the deterministic conduct rules over every
// document. No inference involved.
func (e *Engine) heuristicFindings(c model.Case, docs []model.Document) []model.Finding {
	var findings []model.Finding
	for _, doc := range docs {
		var docFacts []model.ExtractedFact
		for f := range e.facts.FactsFor(doc.ID) {
			docFacts = append(docFacts, f)
		}
		for _, f := range detectBehavioral(c, doc, docFacts) {
			findings = append(findings, e.finish(f, c, false, nil))
		}
	}
	return findings
}

// proposedPatterns asks for conduct patterns beyond the fixed rules. The
// adapter rejects any answer citing facts outside the ledger.
func (e *Engine) proposedPatterns(ctx context.Context, c model.Case, docs []model.Document, res *Result) []model.Finding {
	payload, err := e.ask.Ask(ctx, behavioralSchema, behavioralPrompt(c, e.allFacts(docs)))
	if err != nil {
		e.log.Warn("behavioral pattern inference failed", "error", err)
		res.Gaps = append(res.Gaps, gap("behavioral_patterns", err.Error()))
		return nil
	}

	var findings []model.Finding
	for _, entry := range payload.(*behavioralPayload).Patterns {
		f := e.finish(model.Finding{
			Kind:      model.KindBehavioral,
			Statement: entry.Statement,
			Citations: entry.Facts,
			Phase:     model.PhaseSequentialAnalysis,
			Status:    model.StatusProvisional,
			Heuristic: "proposed:" + entry.Pattern,
		}, c, entry.Uncertain, nil)
		findings = append(findings, f)
	}
	return findings
}

// reasoningMethods are the methodologies that need inference. Tracing
// apportionment is arithmetic and runs without it.
var reasoningMethods = []model.ValuationMethod{
	model.MethodMarketComparison,
	model.MethodIncomeApproach,
	model.MethodAssetApproach,
}

type valuationTask struct {
	engine *Engine
	c      model.Case
	asset  model.Finding
	method model.ValuationMethod
	facts  []model.ExtractedFact
}

type valuationOutcome struct {
	asset   model.FindingID
	method  model.ValuationMethod
	payload *valuationPayload
	err     error
}

func (o *valuationOutcome) Err() error { return o.err }

func (t *valuationTask) Run(ctx context.Context) worker.Outcome {
	payload, err := t.engine.ask.Ask(ctx, valuationSchema, valuationPrompt(t.c, t.asset, t.method, t.facts))
	if err != nil {
		return &valuationOutcome{asset: t.asset.ID, method: t.method, err: err}
	}
	return &valuationOutcome{asset: t.asset.ID, method: t.method, payload: payload.(*valuationPayload)}
}

// valueAssets runs the methodologies independently per business asset and
// computes tracing apportionment for real property with figures on file.
// Estimates for one asset are never merged; each becomes its own finding,
// and disagreement is surfaced through the confidence cap.
func (e *Engine) valueAssets(ctx context.Context, c model.Case, assetFindings []model.Finding, figures map[model.FindingID]apportionmentFigures, docs []model.Document, res *Result) []model.Finding {
	facts := e.allFacts(docs)

	pool := worker.NewPool(ctx, e.maxConcurrent)
	pool.Start()
	submitted := 0
	for _, asset := range assetFindings {
		if asset.AssetClass != model.AssetBusinessInterest {
			continue
		}
		for _, method := range reasoningMethods {
			pool.Submit(&valuationTask{engine: e, c: c, asset: asset, method: method, facts: facts})
			submitted++
		}
	}
	outcomes := pool.Wait()

	sort.Slice(outcomes, func(i, j int) bool {
		a, b := outcomes[i].(*valuationOutcome), outcomes[j].(*valuationOutcome)
		if a.asset != b.asset {
			return a.asset < b.asset
		}
		return a.method < b.method
	})

	// First collect estimates per asset so each valuation finding's
	// confidence can see its siblings and apply the disagreement cap.
	type pending struct {
		statement string
		estimate  model.ValuationEstimate
		cites     []model.FactID
		uncertain bool
	}
	var all []pending
	perAsset := make(map[model.FindingID][]model.ValuationEstimate)

	for _, o := range outcomes {
		v := o.(*valuationOutcome)
		if v.err != nil {
			e.log.Warn("valuation methodology failed", "asset", string(v.asset), "method", string(v.method), "error", v.err)
			res.Gaps = append(res.Gaps, gap(fmt.Sprintf("business_valuation:%s:%s", v.asset, v.method), v.err.Error()))
			continue
		}
		est := model.ValuationEstimate{
			AssetID: v.asset,
			Method:  v.method,
			Point:   v.payload.Point,
			Low:     v.payload.Low,
			High:    v.payload.High,
		}
		all = append(all, pending{
			statement: v.payload.Statement,
			estimate:  est,
			cites:     v.payload.Facts,
			uncertain: v.payload.Uncertain,
		})
		perAsset[v.asset] = append(perAsset[v.asset], est)
	}

	// Tracing apportionment from document-sourced figures, cited through
	// the asset finding's own evidence.
	for _, asset := range assetFindings {
		fig, ok := figures[asset.ID]
		if !ok {
			continue
		}
		est, err := tracingEstimate(asset.ID, fig)
		if err != nil {
			res.Gaps = append(res.Gaps, gap(fmt.Sprintf("business_valuation:%s:%s", asset.ID, model.MethodTracing), err.Error()))
			continue
		}
		all = append(all, pending{
			statement: fmt.Sprintf("Community share of %q by payment tracing: $%.2f of $%.2f current value", asset.Statement, est.Point, fig.CurrentValue),
			estimate:  est,
			cites:     asset.Citations,
			uncertain: false,
		})
		perAsset[asset.ID] = append(perAsset[asset.ID], est)
	}

	var findings []model.Finding
	for _, p := range all {
		f := model.Finding{
			Kind:      model.KindValuation,
			Statement: p.statement,
			Citations: p.cites,
			Phase:     model.PhaseSequentialAnalysis,
			Status:    model.StatusProvisional,
		}
		f = e.finish(f, c, p.uncertain, perAsset[p.estimate.AssetID])
		est := p.estimate
		est.Confidence = f.Confidence
		f.Valuation = &est
		findings = append(findings, f)
	}

	if submitted > 0 || len(findings) > 0 {
		e.log.Info("valuation pass done", "estimates", len(findings), "inference_calls", submitted)
	}
	return findings
}
