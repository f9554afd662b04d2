package model

import (
	"strings"
	"time"
)

// CaseID identifies a matter under analysis.
type CaseID string

// Case is the unit of work handed to the pipeline. It is created by an
// external collaborator, consumed read-only, and mutated only by appending
// a Report once a run completes.
type Case struct {
	ID             CaseID     `json:"id"`
	Name           string     `json:"name"`
	Jurisdiction   string     `json:"jurisdiction"`              // state name or USPS code
	MarriageDate   *time.Time `json:"marriage_date,omitempty"`   // start of the community period
	SeparationDate *time.Time `json:"separation_date,omitempty"` // transfers after this date get extra scrutiny
	CreatedAt      time.Time  `json:"created_at"`
}

// AllocationFramework classifies how a state divides the marital estate.
type AllocationFramework string

const (
	FrameworkCommunityProperty     AllocationFramework = "community_property"
	FrameworkEquitableDistribution AllocationFramework = "equitable_distribution"
)

// Jurisdiction is one of the 50 state-law frameworks.
type Jurisdiction struct {
	Code      string              `json:"code"`
	Name      string              `json:"name"`
	Framework AllocationFramework `json:"framework"`
}

// jurisdictions covers all 50 states. The nine community-property states
// are AZ, CA, ID, LA, NV, NM, TX, WA, WI; everything else divides equitably.
var jurisdictions = []Jurisdiction{
	{"AL", "Alabama", FrameworkEquitableDistribution},
	{"AK", "Alaska", FrameworkEquitableDistribution},
	{"AZ", "Arizona", FrameworkCommunityProperty},
	{"AR", "Arkansas", FrameworkEquitableDistribution},
	{"CA", "California", FrameworkCommunityProperty},
	{"CO", "Colorado", FrameworkEquitableDistribution},
	{"CT", "Connecticut", FrameworkEquitableDistribution},
	{"DE", "Delaware", FrameworkEquitableDistribution},
	{"FL", "Florida", FrameworkEquitableDistribution},
	{"GA", "Georgia", FrameworkEquitableDistribution},
	{"HI", "Hawaii", FrameworkEquitableDistribution},
	{"ID", "Idaho", FrameworkCommunityProperty},
	{"IL", "Illinois", FrameworkEquitableDistribution},
	{"IN", "Indiana", FrameworkEquitableDistribution},
	{"IA", "Iowa", FrameworkEquitableDistribution},
	{"KS", "Kansas", FrameworkEquitableDistribution},
	{"KY", "Kentucky", FrameworkEquitableDistribution},
	{"LA", "Louisiana", FrameworkCommunityProperty},
	{"ME", "Maine", FrameworkEquitableDistribution},
	{"MD", "Maryland", FrameworkEquitableDistribution},
	{"MA", "Massachusetts", FrameworkEquitableDistribution},
	{"MI", "Michigan", FrameworkEquitableDistribution},
	{"MN", "Minnesota", FrameworkEquitableDistribution},
	{"MS", "Mississippi", FrameworkEquitableDistribution},
	{"MO", "Missouri", FrameworkEquitableDistribution},
	{"MT", "Montana", FrameworkEquitableDistribution},
	{"NE", "Nebraska", FrameworkEquitableDistribution},
	{"NV", "Nevada", FrameworkCommunityProperty},
	{"NH", "New Hampshire", FrameworkEquitableDistribution},
	{"NJ", "New Jersey", FrameworkEquitableDistribution},
	{"NM", "New Mexico", FrameworkCommunityProperty},
	{"NY", "New York", FrameworkEquitableDistribution},
	{"NC", "North Carolina", FrameworkEquitableDistribution},
	{"ND", "North Dakota", FrameworkEquitableDistribution},
	{"OH", "Ohio", FrameworkEquitableDistribution},
	{"OK", "Oklahoma", FrameworkEquitableDistribution},
	{"OR", "Oregon", FrameworkEquitableDistribution},
	{"PA", "Pennsylvania", FrameworkEquitableDistribution},
	{"RI", "Rhode Island", FrameworkEquitableDistribution},
	{"SC", "South Carolina", FrameworkEquitableDistribution},
	{"SD", "South Dakota", FrameworkEquitableDistribution},
	{"TN", "Tennessee", FrameworkEquitableDistribution},
	{"TX", "Texas", FrameworkCommunityProperty},
	{"UT", "Utah", FrameworkEquitableDistribution},
	{"VT", "Vermont", FrameworkEquitableDistribution},
	{"VA", "Virginia", FrameworkEquitableDistribution},
	{"WA", "Washington", FrameworkCommunityProperty},
	{"WV", "West Virginia", FrameworkEquitableDistribution},
	{"WI", "Wisconsin", FrameworkCommunityProperty},
	{"WY", "Wyoming", FrameworkEquitableDistribution},
}

// LookupJurisdiction resolves a state name or USPS code, case-insensitively.
// The second return is false when the state is unknown.
func LookupJurisdiction(state string) (Jurisdiction, bool) {
	s := strings.TrimSpace(state)
	for _, j := range jurisdictions {
		if strings.EqualFold(j.Code, s) || strings.EqualFold(j.Name, s) {
			return j, true
		}
	}
	return Jurisdiction{}, false
}

// Jurisdictions returns a copy of the full state table.
func Jurisdictions() []Jurisdiction {
	out := make([]Jurisdiction, len(jurisdictions))
	copy(out, jurisdictions)
	return out
}
