package model

import "time"

// PhaseName identifies a pipeline phase.
type PhaseName string

const (
	PhaseConstitutionalVerification PhaseName = "constitutional_verification"
	PhaseSequentialAnalysis         PhaseName = "sequential_analysis"
	PhaseSelfCorrection             PhaseName = "self_correction"
	PhaseStrategicOutput            PhaseName = "strategic_output"
)

// PhaseStatus summarizes how a phase ended.
type PhaseStatus string

const (
	PhaseSuccess PhaseStatus = "success"
	PhasePartial PhaseStatus = "partial"
	PhaseFailed  PhaseStatus = "failed"
)

// PhaseRecord is one phase's audit entry.
type PhaseRecord struct {
	Phase     PhaseName   `json:"phase"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
	Status    PhaseStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
}

// CoverageGap records analysis that did not happen and why. A gap is never
// a negative finding: "no asset found" and "analysis incomplete" stay
// distinct states.
type CoverageGap struct {
	Phase  PhaseName `json:"phase"`
	Area   string    `json:"area"`
	Reason string    `json:"reason"`
}

// Signal carries a transparent diagnostic with the inputs and formula that
// produced it, so every dashboard number is explainable.
type Signal struct {
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"` // info, warning, critical
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// KindBreakdown is the dashboard's per-category confidence tally.
type KindBreakdown struct {
	Total     int                     `json:"total"`
	Confirmed int                     `json:"confirmed"`
	Retracted int                     `json:"retracted"`
	ByLevel   map[ConfidenceLevel]int `json:"by_level"`
}

// ConfidenceDashboard aggregates confidence across the finding set.
// Bias notes annotate the dashboard, never individual findings.
type ConfidenceDashboard struct {
	Overall   ConfidenceLevel               `json:"overall"`
	ByLevel   map[ConfidenceLevel]int       `json:"by_level"`
	ByKind    map[FindingKind]KindBreakdown `json:"by_kind"`
	Signals   []Signal                      `json:"signals,omitempty"`
	BiasNotes []Signal                      `json:"bias_notes,omitempty"`
}

// SummaryLevel is one rung of the chain-of-density ladder. Level 0 is the
// direct enumeration; each later level is no longer and cites exactly the
// same fact set.
type SummaryLevel struct {
	Level     int      `json:"level"`
	Text      string   `json:"text"`
	Citations []FactID `json:"citations"`
}

// SimulationScenario is one settlement simulation's input parameter set.
type SimulationScenario struct {
	Name        string    `json:"name"`
	Seed        int64     `json:"seed"`
	Samples     int       `json:"samples"`
	Percentiles []float64 `json:"percentiles"` // e.g. 10, 50, 90
}

// PercentilePoint is one requested percentile of the outcome distribution.
type PercentilePoint struct {
	P     float64 `json:"p"`
	Value float64 `json:"value"`
}

// PartyOutcome is one party's settlement-share distribution.
type PartyOutcome struct {
	Party       string            `json:"party"`
	Mean        float64           `json:"mean"`
	Variance    float64           `json:"variance"`
	StdError    float64           `json:"std_error"` // of the mean; shrinks as samples grow
	Percentiles []PercentilePoint `json:"percentiles"`
}

// SimulationResult is a scenario's output distribution, reproducible
// bit-for-bit from the same seed and inputs.
type SimulationResult struct {
	Scenario SimulationScenario `json:"scenario"`
	Weight   float64            `json:"weight"` // allocation share applied to party A
	Outcomes []PartyOutcome     `json:"outcomes"`
}

// UnsimulatedCategory marks an asset category the framework needed but the
// simulator could not cover, with the reason stated outright.
type UnsimulatedCategory struct {
	Category AssetClass `json:"category"`
	Reason   string     `json:"reason"`
}

// FinancialSummary rolls up the confirmed estate.
type FinancialSummary struct {
	TotalAssets      float64         `json:"total_assets"`
	TotalLiabilities float64         `json:"total_liabilities"`
	NetWorth         float64         `json:"net_worth"`
	NetWorthLow      float64         `json:"net_worth_low"`
	NetWorthHigh     float64         `json:"net_worth_high"`
	Confidence       ConfidenceLevel `json:"confidence"`
}

// Action is a recommended immediate step derived from a concealment tier.
type Action struct {
	Action    string    `json:"action"`
	Urgency   string    `json:"urgency"`
	FindingID FindingID `json:"finding_id"`
}

// Report is the immutable output of one completed pipeline run. Retracted
// findings live in the audit trail, never among the primary findings.
type Report struct {
	CaseID        CaseID                `json:"case_id"`
	Jurisdiction  Jurisdiction          `json:"jurisdiction"`
	GeneratedAt   time.Time             `json:"generated_at"`
	SummaryLevels []SummaryLevel        `json:"summary_levels"`
	Findings      []Finding             `json:"findings"`
	AuditTrail    []Finding             `json:"audit_trail,omitempty"`
	Dashboard     ConfidenceDashboard   `json:"dashboard"`
	Simulations   []SimulationResult    `json:"simulations,omitempty"`
	Unsimulated   []UnsimulatedCategory `json:"unsimulated,omitempty"`
	CoverageGaps  []CoverageGap         `json:"coverage_gaps,omitempty"`
	Phases        []PhaseRecord         `json:"phases"`
	Financial     FinancialSummary      `json:"financial"`
	Discovery     []string              `json:"discovery_priorities,omitempty"`
	Actions       []Action              `json:"immediate_actions,omitempty"`
}
