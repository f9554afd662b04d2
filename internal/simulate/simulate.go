// Package simulate runs Monte Carlo settlement scenarios over the confirmed
// valuation estimates. Everything here is plain arithmetic on a seeded
// generator: the same findings and the same seed reproduce every percentile
// bit for bit, which is what makes a simulation citable in a negotiation.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"kestrel/internal/logging"
	"kestrel/internal/model"
)

// ErrInsufficientData means a scenario could not run because a required
// asset category has no confirmed valuation estimate. It fails the scenario,
// never the case.
var ErrInsufficientData = errors.New("simulate: insufficient confirmed data")

// DefaultSamples is the draw count used when a scenario does not set one.
const DefaultSamples = 10000

var defaultPercentiles = []float64{10, 50, 90}

const (
	PartyPetitioner = "petitioner"
	PartyRespondent = "respondent"
)

// Share policy. Community property divides evenly regardless of conduct.
// Equitable distribution starts even and shifts toward the petitioner when
// confirmed concealment reaches tier 3 or 4, capped well short of the
// statutory extremes so the simulation stays conservative.
const (
	baseShare     = 0.5
	tierThreeBump = 0.05
	tierFourBump  = 0.10
	maxShare      = 0.65
)

// majorCategories are the asset classes the valuation pass produces
// estimates for. A scenario cannot run while one of these is present among
// the confirmed assets but entirely unvalued; other categories are reported
// as unsimulated and the scenario proceeds without them.
var majorCategories = map[model.AssetClass]bool{
	model.AssetBusinessInterest: true,
	model.AssetRealProperty:     true,
}

// Simulator draws settlement distributions from confirmed findings.
type Simulator struct {
	log *logging.Logger
}

func New(log *logging.Logger) *Simulator {
	if log == nil {
		log = logging.Nop()
	}
	return &Simulator{log: log}
}

// simAsset is one confirmed asset with the estimates that value it.
type simAsset struct {
	id        model.FindingID
	class     model.AssetClass
	estimates []model.ValuationEstimate
}

// Run executes one scenario. The returned categories list every confirmed
// asset class the draw could not cover; when a major category is among
// them the error wraps ErrInsufficientData and no result is produced.
func (s *Simulator) Run(scenario model.SimulationScenario, jur model.Jurisdiction, findings []model.Finding) (*model.SimulationResult, []model.UnsimulatedCategory, error) {
	if scenario.Samples <= 0 {
		scenario.Samples = DefaultSamples
	}
	if len(scenario.Percentiles) == 0 {
		scenario.Percentiles = append([]float64(nil), defaultPercentiles...)
	}

	assets, uncovered := gatherAssets(findings)
	if len(assets) == 0 {
		return nil, uncovered, fmt.Errorf("no confirmed valuation estimates: %w", ErrInsufficientData)
	}
	for _, u := range uncovered {
		if majorCategories[u.Category] {
			return nil, uncovered, fmt.Errorf("category %s has no confirmed estimate: %w", u.Category, ErrInsufficientData)
		}
	}

	weight := shareFor(jur.Framework, maxConfirmedTier(findings))

	rng := rand.New(rand.NewSource(scenario.Seed))
	nets := make([]float64, scenario.Samples)
	for i := range nets {
		var net float64
		for _, a := range assets {
			est := a.estimates[0]
			if len(a.estimates) > 1 {
				est = a.estimates[rng.Intn(len(a.estimates))]
			}
			v := triangular(rng, est.Low, est.Point, est.High)
			if a.class == model.AssetLiability {
				net -= v
			} else {
				net += v
			}
		}
		nets[i] = net
	}

	result := &model.SimulationResult{
		Scenario: scenario,
		Weight:   weight,
		Outcomes: []model.PartyOutcome{
			outcome(PartyPetitioner, nets, weight, scenario.Percentiles),
			outcome(PartyRespondent, nets, 1-weight, scenario.Percentiles),
		},
	}

	s.log.Info("scenario simulated",
		"scenario", scenario.Name,
		"samples", scenario.Samples,
		"assets", len(assets),
		"weight", weight,
	)
	return result, uncovered, nil
}

// gatherAssets pairs confirmed asset findings with their confirmed
// estimates, in a stable order so draw sequences repeat across runs.
// Assets in a class no estimate covers come back as unsimulated
// categories rather than silently vanishing from the estate.
func gatherAssets(findings []model.Finding) ([]simAsset, []model.UnsimulatedCategory) {
	classes := make(map[model.FindingID]model.AssetClass)
	for _, f := range findings {
		if f.Kind == model.KindAsset && f.Status == model.StatusConfirmed {
			classes[f.ID] = f.AssetClass
		}
	}

	estimates := make(map[model.FindingID][]model.ValuationEstimate)
	for _, f := range findings {
		if f.Kind != model.KindValuation || f.Status != model.StatusConfirmed || f.Valuation == nil {
			continue
		}
		id := f.Valuation.AssetID
		if _, ok := classes[id]; !ok {
			continue
		}
		estimates[id] = append(estimates[id], *f.Valuation)
	}

	var assets []simAsset
	covered := make(map[model.AssetClass]bool)
	present := make(map[model.AssetClass]bool)
	for id, class := range classes {
		present[class] = true
		ests := estimates[id]
		if len(ests) == 0 {
			continue
		}
		covered[class] = true
		sort.Slice(ests, func(i, j int) bool { return ests[i].Method < ests[j].Method })
		assets = append(assets, simAsset{id: id, class: class, estimates: ests})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].id < assets[j].id })

	var uncovered []model.UnsimulatedCategory
	for class := range present {
		if !covered[class] {
			uncovered = append(uncovered, model.UnsimulatedCategory{
				Category: class,
				Reason:   "no confirmed valuation estimate covers this category",
			})
		}
	}
	sort.Slice(uncovered, func(i, j int) bool { return uncovered[i].Category < uncovered[j].Category })

	return assets, uncovered
}

// maxConfirmedTier returns the highest tier among confirmed concealment
// findings, or 0 when there are none.
func maxConfirmedTier(findings []model.Finding) int {
	tier := 0
	for _, f := range findings {
		if f.Kind != model.KindConcealment || f.Status != model.StatusConfirmed || f.Concealment == nil {
			continue
		}
		if f.Concealment.Tier > tier {
			tier = f.Concealment.Tier
		}
	}
	return tier
}

// shareFor computes the petitioner's allocation share under the framework.
func shareFor(framework model.AllocationFramework, tier int) float64 {
	if framework != model.FrameworkEquitableDistribution {
		return baseShare
	}
	share := baseShare
	switch {
	case tier >= 4:
		share += tierFourBump
	case tier == 3:
		share += tierThreeBump
	}
	return math.Min(share, maxShare)
}

// triangular draws from the triangular distribution on [low, high] with
// mode at point. One uniform draw is consumed per call regardless of shape.
func triangular(rng *rand.Rand, low, point, high float64) float64 {
	u := rng.Float64()
	if high <= low {
		return point
	}
	fc := (point - low) / (high - low)
	if u < fc {
		return low + math.Sqrt(u*(high-low)*(point-low))
	}
	return high - math.Sqrt((1-u)*(high-low)*(high-point))
}

// outcome reduces the net-estate draws to one party's share distribution.
func outcome(party string, nets []float64, share float64, percentiles []float64) model.PartyOutcome {
	vals := make([]float64, len(nets))
	for i, n := range nets {
		vals[i] = n * share
	}
	sort.Float64s(vals)

	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))

	points := make([]model.PercentilePoint, len(percentiles))
	for i, p := range percentiles {
		points[i] = model.PercentilePoint{P: p, Value: nearestRank(vals, p)}
	}

	return model.PartyOutcome{
		Party:       party,
		Mean:        mean,
		Variance:    variance,
		StdError:    math.Sqrt(variance) / math.Sqrt(float64(len(vals))),
		Percentiles: points,
	}
}

// nearestRank picks the p-th percentile from sorted values: the smallest
// value with at least p percent of the sample at or below it.
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
