package confidence

import (
	"fmt"

	"kestrel/internal/model"
)

// Signal types emitted by the dashboard builder.
const (
	SignalOverallConfidence    = "overall_confidence"
	SignalEvidenceDensity      = "evidence_density"
	SignalRetractionRate       = "retraction_rate"
	SignalUncertainShare       = "uncertain_share"
	SignalDocTypeConcentration = "doc_type_concentration"
	SignalPartyAsymmetry       = "party_asymmetry"
)

// FactSource resolves citations back to facts. The ledger satisfies this.
type FactSource interface {
	GetFact(id model.FactID) (model.ExtractedFact, error)
}

// Dashboard aggregates per-finding confidence into the report's dashboard:
// counts per level and kind, transparent signals carrying their formulas,
// and bias annotations. Bias notes never change a finding's level; they
// annotate the aggregate view only.
func (e *Engine) Dashboard(findings []model.Finding, facts FactSource, docs []model.Document) model.ConfidenceDashboard {
	var signals []model.Signal
	var biasNotes []model.Signal

	active, retracted := splitRetracted(findings)

	byLevel := make(map[model.ConfidenceLevel]int)
	for _, f := range active {
		byLevel[f.Confidence]++
	}

	byKind := kindBreakdown(findings)

	overall, overallSignal := overallLevel(byLevel, len(active))
	signals = append(signals, overallSignal)

	signals = append(signals, densitySignal(active))

	if len(retracted) > 0 {
		signals = append(signals, retractionSignal(len(retracted), len(findings)))
	}
	if n := byLevel[model.ConfidenceUncertain]; n > 0 {
		signals = append(signals, uncertainSignal(n, len(active)))
	}

	if note, ok := docTypeConcentration(active, facts, docs); ok {
		biasNotes = append(biasNotes, note)
	}
	if note, ok := partyAsymmetry(active, facts, docs); ok {
		biasNotes = append(biasNotes, note)
	}

	return model.ConfidenceDashboard{
		Overall:   overall,
		ByLevel:   byLevel,
		ByKind:    byKind,
		Signals:   signals,
		BiasNotes: biasNotes,
	}
}

func splitRetracted(findings []model.Finding) (active, retracted []model.Finding) {
	for _, f := range findings {
		if f.Status == model.StatusRetracted {
			retracted = append(retracted, f)
		} else {
			active = append(active, f)
		}
	}
	return active, retracted
}

func kindBreakdown(findings []model.Finding) map[model.FindingKind]model.KindBreakdown {
	out := make(map[model.FindingKind]model.KindBreakdown)
	for _, f := range findings {
		kb := out[f.Kind]
		kb.Total++
		if kb.ByLevel == nil {
			kb.ByLevel = make(map[model.ConfidenceLevel]int)
		}
		switch f.Status {
		case model.StatusRetracted:
			kb.Retracted++
		case model.StatusConfirmed:
			kb.Confirmed++
			kb.ByLevel[f.Confidence]++
		default:
			kb.ByLevel[f.Confidence]++
		}
		out[f.Kind] = kb
	}
	return out
}

// overallLevel scores active findings 3/2/1/0 for High/Medium/Low/Uncertain
// and maps the mean back onto a level.
func overallLevel(byLevel map[model.ConfidenceLevel]int, active int) (model.ConfidenceLevel, model.Signal) {
	if active == 0 {
		return model.ConfidenceUncertain, model.Signal{
			Type:        SignalOverallConfidence,
			Severity:    model.SeverityCritical,
			Description: "No active findings to aggregate",
			Data:        map[string]interface{}{"active": 0},
		}
	}

	sum := 3*byLevel[model.ConfidenceHigh] + 2*byLevel[model.ConfidenceMedium] + byLevel[model.ConfidenceLow]
	mean := float64(sum) / float64(active)

	var overall model.ConfidenceLevel
	switch {
	case mean >= 2.5:
		overall = model.ConfidenceHigh
	case mean >= 1.5:
		overall = model.ConfidenceMedium
	case mean >= 0.75:
		overall = model.ConfidenceLow
	default:
		overall = model.ConfidenceUncertain
	}

	return overall, model.Signal{
		Type:        SignalOverallConfidence,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("Mean confidence score %.2f over %d active findings", mean, active),
		Data: map[string]interface{}{
			"mean":    mean,
			"active":  active,
			"formula": "(3*high + 2*medium + 1*low) / active",
		},
	}
}

func densitySignal(active []model.Finding) model.Signal {
	citations := 0
	for _, f := range active {
		citations += len(f.Citations)
	}

	if len(active) == 0 {
		return model.Signal{
			Type:        SignalEvidenceDensity,
			Severity:    model.SeverityWarning,
			Description: "No findings to measure evidence density",
			Data:        map[string]interface{}{"citations": citations},
		}
	}

	ratio := float64(citations) / float64(len(active))
	severity := model.SeverityInfo
	if ratio < 2 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        SignalEvidenceDensity,
		Severity:    severity,
		Description: fmt.Sprintf("Citations per finding: %.2f", ratio),
		Data: map[string]interface{}{
			"citations": citations,
			"findings":  len(active),
			"ratio":     ratio,
			"formula":   "citations / active_findings",
		},
	}
}

func retractionSignal(retracted, total int) model.Signal {
	rate := float64(retracted) / float64(total)
	severity := model.SeverityInfo
	if rate > 0.5 {
		severity = model.SeverityCritical
	} else if rate > 0.25 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        SignalRetractionRate,
		Severity:    severity,
		Description: fmt.Sprintf("%d of %d findings retracted during self-correction", retracted, total),
		Data: map[string]interface{}{
			"retracted": retracted,
			"total":     total,
			"rate":      rate,
			"formula":   "retracted / total_findings",
		},
	}
}

func uncertainSignal(uncertain, active int) model.Signal {
	share := float64(uncertain) / float64(active)
	severity := model.SeverityInfo
	if share > 0.3 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        SignalUncertainShare,
		Severity:    severity,
		Description: fmt.Sprintf("%d of %d active findings are Uncertain", uncertain, active),
		Data: map[string]interface{}{
			"uncertain": uncertain,
			"active":    active,
			"share":     share,
			"formula":   "uncertain / active_findings",
		},
	}
}

// docTypeConcentration flags finding sets whose citations lean too hard on
// one document type. The analysis may be correct; the note says the evidence
// base is narrow.
func docTypeConcentration(active []model.Finding, facts FactSource, docs []model.Document) (model.Signal, bool) {
	docTypes := make(map[model.DocumentID]model.DocumentType, len(docs))
	for _, d := range docs {
		docTypes[d.ID] = d.Type
	}

	perType := make(map[model.DocumentType]int)
	total := 0
	for _, f := range active {
		for _, id := range f.Citations {
			fact, err := facts.GetFact(id)
			if err != nil {
				continue
			}
			if dt, ok := docTypes[fact.Locator.DocumentID]; ok {
				perType[dt]++
				total++
			}
		}
	}
	if total < 3 {
		return model.Signal{}, false
	}

	var topType model.DocumentType
	top := 0
	for dt, n := range perType {
		if n > top {
			top = n
			topType = dt
		}
	}

	share := float64(top) / float64(total)
	if share <= 0.7 {
		return model.Signal{}, false
	}

	return model.Signal{
		Type:        SignalDocTypeConcentration,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%.0f%% of citations come from %s documents", share*100, topType),
		Data: map[string]interface{}{
			"document_type": string(topType),
			"share":         share,
			"citations":     total,
			"formula":       "citations_from_top_type / total_citations",
		},
	}, true
}

// partyAsymmetry flags analyses that examined one spouse's records while the
// case holds both parties' documents.
func partyAsymmetry(active []model.Finding, facts FactSource, docs []model.Document) (model.Signal, bool) {
	docParty := make(map[model.DocumentID]string, len(docs))
	caseParties := make(map[string]bool)
	for _, d := range docs {
		if d.Party != "" {
			docParty[d.ID] = d.Party
			caseParties[d.Party] = true
		}
	}
	if len(caseParties) < 2 {
		return model.Signal{}, false
	}

	perParty := make(map[string]int)
	total := 0
	for _, f := range active {
		for _, id := range f.Citations {
			fact, err := facts.GetFact(id)
			if err != nil {
				continue
			}
			if party, ok := docParty[fact.Locator.DocumentID]; ok {
				perParty[party]++
				total++
			}
		}
	}
	if total < 3 {
		return model.Signal{}, false
	}

	var topParty string
	top := 0
	for party, n := range perParty {
		if n > top {
			top = n
			topParty = party
		}
	}

	share := float64(top) / float64(total)
	if share <= 0.9 {
		return model.Signal{}, false
	}

	return model.Signal{
		Type:        SignalPartyAsymmetry,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%.0f%% of cited evidence concerns party %q while the case holds both parties' records", share*100, topParty),
		Data: map[string]interface{}{
			"party":     topParty,
			"share":     share,
			"citations": total,
			"formula":   "citations_for_top_party / attributed_citations",
		},
	}, true
}
