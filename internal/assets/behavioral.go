package assets

import (
	"fmt"
	"math"
	"time"

	"kestrel/internal/model"
)

// Heuristic tags carried on behavioral findings, "family:rule" form.
const (
	heuristicPostSeparation = "transfer:post_separation"
	heuristicSubThreshold   = "cadence:sub_threshold"
	heuristicRoundNumber    = "cadence:round_number"
)

const (
	// Cash transactions at or above this trigger a currency transaction
	// report; amounts parked just under it are the structuring signature.
	reportingThreshold = 10000
	subThresholdFloor  = 9000

	// Outflows below this are routine household noise.
	minNotableTransfer = 2500

	// Repetition floor before a cadence becomes a pattern.
	minCadenceCount = 3
)

var rowDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"2006-01-02T15:04:05Z07:00",
}

func parseRowDate(s string) (time.Time, bool) {
	for _, layout := range rowDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// rowFact pairs a ledger fact with the tabular row its locator points at.
type rowFact struct {
	fact model.ExtractedFact
	row  model.TabularRow
}

func rowFactsFor(doc model.Document, facts []model.ExtractedFact) []rowFact {
	var out []rowFact
	for _, f := range facts {
		if !f.Locator.IsRow() || f.Locator.Row >= len(doc.Rows) {
			continue
		}
		out = append(out, rowFact{fact: f, row: doc.Rows[f.Locator.Row]})
	}
	return out
}

// detectBehavioral runs the deterministic heuristics over one document's
// row-locating facts. No reasoning calls; every match cites the row facts
// that triggered it.
func detectBehavioral(c model.Case, doc model.Document, facts []model.ExtractedFact) []model.Finding {
	rows := rowFactsFor(doc, facts)
	if len(rows) == 0 {
		return nil
	}

	var findings []model.Finding

	if f, ok := postSeparationTransfers(c, doc, rows); ok {
		findings = append(findings, f)
	}
	if f, ok := cadence(doc, rows, heuristicSubThreshold,
		func(amount float64) bool {
			return amount >= subThresholdFloor && amount < reportingThreshold
		},
		fmt.Sprintf("transactions between $%d and $%d", subThresholdFloor, reportingThreshold)); ok {
		findings = append(findings, f)
	}
	if f, ok := cadence(doc, rows, heuristicRoundNumber,
		func(amount float64) bool {
			return amount >= 1000 && math.Mod(amount, 1000) == 0
		},
		"round-number transfers of $1,000 or more"); ok {
		findings = append(findings, f)
	}

	return findings
}

func postSeparationTransfers(c model.Case, doc model.Document, rows []rowFact) (model.Finding, bool) {
	if c.SeparationDate == nil {
		return model.Finding{}, false
	}

	var cites []model.FactID
	var total float64
	for _, rf := range rows {
		date, ok := parseRowDate(rf.row.Date)
		if !ok || !date.After(*c.SeparationDate) {
			continue
		}
		if rf.row.Amount >= 0 || -rf.row.Amount < minNotableTransfer {
			continue
		}
		cites = append(cites, rf.fact.ID)
		total += -rf.row.Amount
	}
	if len(cites) == 0 {
		return model.Finding{}, false
	}

	return model.Finding{
		Kind: model.KindBehavioral,
		Statement: fmt.Sprintf("%d outbound transfers totaling $%.2f in %s dated after the %s separation",
			len(cites), total, doc.Name, c.SeparationDate.Format("2006-01-02")),
		Citations: cites,
		Phase:     model.PhaseSequentialAnalysis,
		Status:    model.StatusProvisional,
		Heuristic: heuristicPostSeparation,
	}, true
}

func cadence(doc model.Document, rows []rowFact, heuristic string, match func(float64) bool, what string) (model.Finding, bool) {
	var cites []model.FactID
	for _, rf := range rows {
		if match(math.Abs(rf.row.Amount)) {
			cites = append(cites, rf.fact.ID)
		}
	}
	if len(cites) < minCadenceCount {
		return model.Finding{}, false
	}

	return model.Finding{
		Kind:      model.KindBehavioral,
		Statement: fmt.Sprintf("%d %s in %s", len(cites), what, doc.Name),
		Citations: cites,
		Phase:     model.PhaseSequentialAnalysis,
		Status:    model.StatusProvisional,
		Heuristic: heuristic,
	}, true
}
