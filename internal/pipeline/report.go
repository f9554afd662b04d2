package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"kestrel/internal/model"
	"kestrel/internal/simulate"
	"kestrel/internal/summary"
)

// Urgency grades for immediate actions.
const (
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Preservation wording per concealment scheme.
var schemeActions = map[model.SchemeCategory]string{
	model.SchemeOffshore:             "Serve preservation letters on the offshore institutions named in the cited evidence",
	model.SchemeBusinessManipulation: "Demand complete business financials and engage a forensic accountant",
	model.SchemeDigitalAsset:         "Subpoena exchange account records and wallet histories",
	model.SchemeStructuring:          "Subpoena full transaction histories for the accounts showing structured transfers",
}

// assemble is strategic output: the summary ladder, the confidence
// dashboard, the settlement simulation, the financial rollup, discovery
// priorities, and immediate actions. Deterministic except for the
// summarizer's optional densification calls.
func (o *Orchestrator) assemble(ctx context.Context, r *run) (model.PhaseStatus, string, error) {
	builder := summary.NewBuilder(o.ask, r.led, o.log)
	levels, err := builder.Build(ctx, r.c, r.findings)
	if err != nil {
		return "", "", fmt.Errorf("summary: %w", err)
	}

	dash := o.conf.Dashboard(slices.Concat(r.findings, r.audit), r.led, r.docs)

	scenario := model.SimulationScenario{
		Name:        string(r.jur.Framework) + " baseline",
		Seed:        o.cfg.Simulation.Seed,
		Samples:     o.cfg.Simulation.Samples,
		Percentiles: slices.Clone(o.cfg.Simulation.Percentiles),
	}
	var sims []model.SimulationResult
	simRes, unsimulated, err := o.sim.Run(scenario, r.jur, r.findings)
	switch {
	case err == nil:
		sims = append(sims, *simRes)
	case errors.Is(err, simulate.ErrInsufficientData):
		r.gaps = append(r.gaps, model.CoverageGap{
			Phase:  model.PhaseStrategicOutput,
			Area:   "settlement_simulation:" + scenario.Name,
			Reason: err.Error(),
		})
	default:
		return "", "", fmt.Errorf("simulate: %w", err)
	}

	r.report = &model.Report{
		CaseID:        r.c.ID,
		Jurisdiction:  r.jur,
		GeneratedAt:   o.now(),
		SummaryLevels: levels,
		Findings:      r.findings,
		AuditTrail:    r.audit,
		Dashboard:     dash,
		Simulations:   sims,
		Unsimulated:   unsimulated,
		Financial:     financialSummary(r.findings),
		Discovery:     discoveryPriorities(r),
		Actions:       immediateActions(r.findings),
	}

	status := model.PhaseSuccess
	if len(sims) == 0 || len(unsimulated) > 0 {
		status = model.PhasePartial
	}
	detail := fmt.Sprintf("%d summary levels, %d findings, %d simulations",
		len(levels), len(r.findings), len(sims))
	return status, detail, nil
}

// financialSummary rolls up the confirmed estate. Per asset the point is the
// lower-median confirmed estimate, always an actual methodology value rather
// than a blend; the range spans the widest confirmed bounds. The summary's
// confidence is the weakest level among the estimates it used.
func financialSummary(findings []model.Finding) model.FinancialSummary {
	classes := make(map[model.FindingID]model.AssetClass)
	for _, f := range findings {
		if f.Status == model.StatusConfirmed && f.Kind == model.KindAsset {
			classes[f.ID] = f.AssetClass
		}
	}

	type rollup struct {
		points []float64
		low    float64
		high   float64
		conf   model.ConfidenceLevel
	}
	perAsset := make(map[model.FindingID]*rollup)
	for _, f := range findings {
		if f.Status != model.StatusConfirmed || f.Kind != model.KindValuation || f.Valuation == nil {
			continue
		}
		if _, ok := classes[f.Valuation.AssetID]; !ok {
			continue
		}
		ru := perAsset[f.Valuation.AssetID]
		if ru == nil {
			ru = &rollup{low: f.Valuation.Low, high: f.Valuation.High, conf: f.Confidence}
			perAsset[f.Valuation.AssetID] = ru
		}
		ru.points = append(ru.points, f.Valuation.Point)
		ru.low = min(ru.low, f.Valuation.Low)
		ru.high = max(ru.high, f.Valuation.High)
		if f.Confidence.Rank() < ru.conf.Rank() {
			ru.conf = f.Confidence
		}
	}
	if len(perAsset) == 0 {
		return model.FinancialSummary{Confidence: model.ConfidenceUncertain}
	}

	ids := make([]model.FindingID, 0, len(perAsset))
	for id := range perAsset {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	fin := model.FinancialSummary{Confidence: model.ConfidenceHigh}
	var assetLow, assetHigh, liabLow, liabHigh float64
	for _, id := range ids {
		ru := perAsset[id]
		slices.Sort(ru.points)
		point := ru.points[(len(ru.points)-1)/2]
		if classes[id] == model.AssetLiability {
			fin.TotalLiabilities += point
			liabLow += ru.low
			liabHigh += ru.high
		} else {
			fin.TotalAssets += point
			assetLow += ru.low
			assetHigh += ru.high
		}
		if ru.conf.Rank() < fin.Confidence.Rank() {
			fin.Confidence = ru.conf
		}
	}
	fin.NetWorth = fin.TotalAssets - fin.TotalLiabilities
	fin.NetWorthLow = assetLow - liabHigh
	fin.NetWorthHigh = assetHigh - liabLow
	return fin
}

// discoveryPriorities derives the discovery list from knowledge boundaries,
// verification failures, and confirmed major assets that no confirmed
// estimate values.
func discoveryPriorities(r *run) []string {
	var out []string
	for _, t := range r.boundaries {
		out = append(out, fmt.Sprintf("Obtain %s records; none were provided", t))
	}
	out = append(out, r.unverified...)

	valued := make(map[model.FindingID]bool)
	for _, f := range r.findings {
		if f.Status == model.StatusConfirmed && f.Kind == model.KindValuation && f.Valuation != nil {
			valued[f.Valuation.AssetID] = true
		}
	}
	for _, f := range r.findings {
		if f.Status != model.StatusConfirmed || f.Kind != model.KindAsset || valued[f.ID] {
			continue
		}
		if f.AssetClass != model.AssetBusinessInterest && f.AssetClass != model.AssetRealProperty {
			continue
		}
		out = append(out, fmt.Sprintf("Commission an independent valuation of the %s holding in finding %s", f.AssetClass, f.ID))
	}
	return out
}

// immediateActions recommends a preservation step for every confirmed
// concealment finding at tier 3 or above, most urgent first.
func immediateActions(findings []model.Finding) []model.Action {
	var acts []model.Action
	for _, f := range findings {
		if f.Status != model.StatusConfirmed || f.Kind != model.KindConcealment || f.Concealment == nil {
			continue
		}
		if f.Concealment.Tier < 3 {
			continue
		}
		urgency := UrgencyHigh
		if f.Concealment.Tier >= 4 {
			urgency = UrgencyCritical
		}
		act := schemeActions[f.Concealment.Scheme]
		if act == "" {
			act = "Preserve all records related to the flagged conduct"
		}
		acts = append(acts, model.Action{Action: act, Urgency: urgency, FindingID: f.ID})
	}
	sort.SliceStable(acts, func(i, j int) bool {
		return acts[i].Urgency == UrgencyCritical && acts[j].Urgency != UrgencyCritical
	})
	return acts
}
