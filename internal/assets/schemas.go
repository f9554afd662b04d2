package assets

import (
	"fmt"

	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

var validAssetClasses = map[model.AssetClass]bool{
	model.AssetBankAccount:      true,
	model.AssetRealProperty:     true,
	model.AssetBusinessInterest: true,
	model.AssetBrokerage:        true,
	model.AssetDigital:          true,
	model.AssetVehicle:          true,
	model.AssetRetirement:       true,
	model.AssetLiability:        true,
	model.AssetOther:            true,
}

var validSchemes = map[model.SchemeCategory]bool{
	model.SchemeOffshore:             true,
	model.SchemeBusinessManipulation: true,
	model.SchemeDigitalAsset:         true,
	model.SchemeStructuring:          true,
}

// apportionmentFigures are document-sourced inputs for the tracing
// calculation. The model reads them out of the evidence; the arithmetic
// stays ours.
type apportionmentFigures struct {
	DownPayment       float64 `json:"down_payment"`
	SeparateDown      bool    `json:"separate_down_payment"`
	PurchasePrice     float64 `json:"purchase_price"`
	CurrentValue      float64 `json:"current_value"`
	CommunityPayments float64 `json:"community_payments"`
}

type assetEntry struct {
	Class         model.AssetClass      `json:"asset_class"`
	Statement     string                `json:"statement"`
	Facts         []model.FactID        `json:"facts"`
	Apportionment *apportionmentFigures `json:"apportionment,omitempty"`
	Uncertain     bool                  `json:"uncertain,omitempty"`
}

// assetMapPayload is the asset universe mapping response.
type assetMapPayload struct {
	Assets []assetEntry `json:"assets"`
}

func (p *assetMapPayload) Validate() error {
	for i, a := range p.Assets {
		if a.Statement == "" {
			return fmt.Errorf("asset %d: empty statement", i)
		}
		if len(a.Facts) == 0 {
			return fmt.Errorf("asset %d: no supporting facts", i)
		}
		if !validAssetClasses[a.Class] {
			return fmt.Errorf("asset %d: unknown asset class %q", i, a.Class)
		}
	}
	return nil
}

func (p *assetMapPayload) CitedFacts() []model.FactID {
	var ids []model.FactID
	for _, a := range p.Assets {
		ids = append(ids, a.Facts...)
	}
	return ids
}

var assetMapSchema = reasoning.Schema{
	Name: "asset_map",
	Shape: `{
  "assets": [
    {
      "asset_class": "bank_account|real_property|business_interest|brokerage_account|digital_asset|vehicle|retirement_account|liability|other",
      "statement": "what the asset is and what the evidence shows",
      "facts": ["fact-id", "fact-id"],
      "apportionment": {"down_payment": 0, "separate_down_payment": false, "purchase_price": 0, "current_value": 0, "community_payments": 0},
      "uncertain": false
    }
  ]
}`,
	New: func() reasoning.Payload { return &assetMapPayload{} },
}

type schemeEntry struct {
	Scheme    model.SchemeCategory `json:"scheme"`
	Statement string               `json:"statement"`
	Facts     []model.FactID       `json:"facts"`
	Uncertain bool                 `json:"uncertain,omitempty"`
}

// concealmentPayload lists suspected schemes. Tiers are assigned here,
// never requested from the model.
type concealmentPayload struct {
	Schemes []schemeEntry `json:"schemes"`
}

func (p *concealmentPayload) Validate() error {
	for i, s := range p.Schemes {
		if s.Statement == "" {
			return fmt.Errorf("scheme %d: empty statement", i)
		}
		if len(s.Facts) == 0 {
			return fmt.Errorf("scheme %d: no supporting facts", i)
		}
		if !validSchemes[s.Scheme] {
			return fmt.Errorf("scheme %d: unknown scheme category %q", i, s.Scheme)
		}
	}
	return nil
}

func (p *concealmentPayload) CitedFacts() []model.FactID {
	var ids []model.FactID
	for _, s := range p.Schemes {
		ids = append(ids, s.Facts...)
	}
	return ids
}

var concealmentSchema = reasoning.Schema{
	Name: "concealment_detection",
	Shape: `{
  "schemes": [
    {
      "scheme": "offshore|business_manipulation|digital_asset|structuring",
      "statement": "what the pattern is and which transactions show it",
      "facts": ["fact-id", "fact-id"],
      "uncertain": false
    }
  ]
}`,
	New: func() reasoning.Payload { return &concealmentPayload{} },
}

type patternEntry struct {
	Pattern   string         `json:"pattern"`
	Statement string         `json:"statement"`
	Facts     []model.FactID `json:"facts"`
	Uncertain bool           `json:"uncertain,omitempty"`
}

// behavioralPayload carries model-proposed conduct patterns, supplementing
// the deterministic heuristics.
type behavioralPayload struct {
	Patterns []patternEntry `json:"patterns"`
}

func (p *behavioralPayload) Validate() error {
	for i, e := range p.Patterns {
		if e.Pattern == "" || e.Statement == "" {
			return fmt.Errorf("pattern %d: empty pattern or statement", i)
		}
		if len(e.Facts) == 0 {
			return fmt.Errorf("pattern %d: no supporting facts", i)
		}
	}
	return nil
}

func (p *behavioralPayload) CitedFacts() []model.FactID {
	var ids []model.FactID
	for _, e := range p.Patterns {
		ids = append(ids, e.Facts...)
	}
	return ids
}

var behavioralSchema = reasoning.Schema{
	Name: "behavioral_patterns",
	Shape: `{
  "patterns": [
    {
      "pattern": "short machine-readable pattern name",
      "statement": "what the conduct is and which evidence shows it",
      "facts": ["fact-id"],
      "uncertain": false
    }
  ]
}`,
	New: func() reasoning.Payload { return &behavioralPayload{} },
}

// valuationPayload is one methodology's estimate for one asset. Point inside
// [low, high] is checked here so a malformed range never reaches the
// simulator.
type valuationPayload struct {
	Statement string         `json:"statement"`
	Point     float64        `json:"point"`
	Low       float64        `json:"low"`
	High      float64        `json:"high"`
	Facts     []model.FactID `json:"facts"`
	Uncertain bool           `json:"uncertain,omitempty"`
}

func (p *valuationPayload) Validate() error {
	if p.Statement == "" {
		return fmt.Errorf("empty statement")
	}
	if len(p.Facts) == 0 {
		return fmt.Errorf("no supporting facts")
	}
	if p.Low > p.High {
		return fmt.Errorf("low %f above high %f", p.Low, p.High)
	}
	if p.Point < p.Low || p.Point > p.High {
		return fmt.Errorf("point %f outside [%f, %f]", p.Point, p.Low, p.High)
	}
	return nil
}

func (p *valuationPayload) CitedFacts() []model.FactID { return p.Facts }

var valuationSchema = reasoning.Schema{
	Name: "valuation_estimate",
	Shape: `{
  "statement": "what was valued and how",
  "point": 0,
  "low": 0,
  "high": 0,
  "facts": ["fact-id"],
  "uncertain": false
}`,
	New: func() reasoning.Payload { return &valuationPayload{} },
}
