package model

import "time"

// ConfidenceLevel describes the evidentiary reliability of a finding.
type ConfidenceLevel string

const (
	ConfidenceHigh      ConfidenceLevel = "High"
	ConfidenceMedium    ConfidenceLevel = "Medium"
	ConfidenceLow       ConfidenceLevel = "Low"
	ConfidenceUncertain ConfidenceLevel = "Uncertain"
)

// Rank orders levels for ceiling comparisons: higher is stronger.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// RaiseOne returns the level one step stronger, capped at the ceiling.
func (c ConfidenceLevel) RaiseOne(ceiling ConfidenceLevel) ConfidenceLevel {
	order := []ConfidenceLevel{ConfidenceUncertain, ConfidenceLow, ConfidenceMedium, ConfidenceHigh}
	next := c
	for i, l := range order {
		if l == c && i+1 < len(order) {
			next = order[i+1]
			break
		}
	}
	if next.Rank() > ceiling.Rank() {
		return ceiling
	}
	return next
}

// FindingKind is the tagged-variant discriminator over finding subtypes.
type FindingKind string

const (
	KindAsset       FindingKind = "asset"
	KindConcealment FindingKind = "concealment"
	KindValuation   FindingKind = "valuation"
	KindBehavioral  FindingKind = "behavioral"
)

// FindingStatus is the self-correction state machine's per-finding state.
type FindingStatus string

const (
	StatusProvisional FindingStatus = "Provisional"
	StatusConfirmed   FindingStatus = "Confirmed"
	StatusDemoted     FindingStatus = "Demoted"
	StatusRetracted   FindingStatus = "Retracted"
)

// FindingID identifies a pipeline-produced conclusion.
type FindingID string

// AssetClass categorizes what an asset finding describes. Liabilities ride
// the asset kind with their own class rather than a separate finding kind.
type AssetClass string

const (
	AssetBankAccount      AssetClass = "bank_account"
	AssetRealProperty     AssetClass = "real_property"
	AssetBusinessInterest AssetClass = "business_interest"
	AssetBrokerage        AssetClass = "brokerage_account"
	AssetDigital          AssetClass = "digital_asset"
	AssetVehicle          AssetClass = "vehicle"
	AssetRetirement       AssetClass = "retirement_account"
	AssetLiability        AssetClass = "liability"
	AssetOther            AssetClass = "other"
)

// SchemeCategory names a concealment pattern family.
type SchemeCategory string

const (
	SchemeOffshore             SchemeCategory = "offshore"
	SchemeBusinessManipulation SchemeCategory = "business_manipulation"
	SchemeDigitalAsset         SchemeCategory = "digital_asset"
	SchemeStructuring          SchemeCategory = "structuring"
)

// ConcealmentFlag is the concealment specialization: a scheme category plus
// a tier from the deterministic tier matrix (1 lowest, 4 highest suspicion).
type ConcealmentFlag struct {
	Scheme SchemeCategory `json:"scheme"`
	Tier   int            `json:"tier"`
}

// ValuationMethod tags how an estimate was produced. Estimates from
// different methods are surfaced side by side, never averaged.
type ValuationMethod string

const (
	MethodMarketComparison ValuationMethod = "market_comparison"
	MethodIncomeApproach   ValuationMethod = "income_approach"
	MethodAssetApproach    ValuationMethod = "asset_approach"
	MethodTracing          ValuationMethod = "tracing_apportionment"
)

// ValuationEstimate is one methodology's view of one asset's worth.
type ValuationEstimate struct {
	AssetID    FindingID       `json:"asset_id"` // the asset finding being valued
	Method     ValuationMethod `json:"method"`
	Point      float64         `json:"point"`
	Low        float64         `json:"low"`
	High       float64         `json:"high"`
	Confidence ConfidenceLevel `json:"confidence"`
}

// Finding is a conclusion backed by cited evidence. Subtype payloads hang
// off the Kind tag; the base contract (confidence, citations, status) is
// shared by all of them. A finding with zero citations is invalid and must
// never be emitted.
type Finding struct {
	ID         FindingID       `json:"id"`
	CaseID     CaseID          `json:"case_id"`
	Kind       FindingKind     `json:"kind"`
	Statement  string          `json:"statement"`
	Confidence ConfidenceLevel `json:"confidence"`
	Citations  []FactID        `json:"citations"`
	Phase      PhaseName       `json:"phase"` // phase of origin
	Status     FindingStatus   `json:"status"`
	Revision   int             `json:"revision"` // analysis re-entry count

	// Self-reported doubt forces Uncertain; self-reported sureness changes
	// nothing.
	SelfReportedUncertain bool `json:"self_reported_uncertain,omitempty"`

	AssetClass  AssetClass         `json:"asset_class,omitempty"` // Kind == asset
	Concealment *ConcealmentFlag   `json:"concealment,omitempty"` // Kind == concealment
	Valuation   *ValuationEstimate `json:"valuation,omitempty"`   // Kind == valuation
	Heuristic   string             `json:"heuristic,omitempty"`   // Kind == behavioral: which detection rule matched

	StatusReason string    `json:"status_reason,omitempty"` // why confirmed/demoted/retracted
	CreatedAt    time.Time `json:"created_at"`
}

// Valid reports whether the finding honors the base contract.
func (f Finding) Valid() bool {
	return f.Statement != "" && len(f.Citations) > 0
}
