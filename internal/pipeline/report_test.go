package pipeline

import (
	"strings"
	"testing"

	"kestrel/internal/model"
)

func confirmedAsset(id model.FindingID, class model.AssetClass) model.Finding {
	return model.Finding{
		ID:         id,
		Kind:       model.KindAsset,
		Status:     model.StatusConfirmed,
		AssetClass: class,
		Confidence: model.ConfidenceHigh,
	}
}

func confirmedEstimate(asset model.FindingID, method model.ValuationMethod, point, low, high float64, conf model.ConfidenceLevel) model.Finding {
	return model.Finding{
		ID:         model.FindingID("val-" + string(asset) + "-" + string(method)),
		Kind:       model.KindValuation,
		Status:     model.StatusConfirmed,
		Confidence: conf,
		Valuation: &model.ValuationEstimate{
			AssetID: asset,
			Method:  method,
			Point:   point,
			Low:     low,
			High:    high,
		},
	}
}

func TestFinancialSummary_LowerMedianPerAsset(t *testing.T) {
	findings := []model.Finding{
		confirmedAsset("f-biz", model.AssetBusinessInterest),
		confirmedAsset("f-shop", model.AssetBusinessInterest),
		// Three methodologies for the main business: the middle value wins.
		confirmedEstimate("f-biz", model.MethodMarketComparison, 310000, 260000, 380000, model.ConfidenceMedium),
		confirmedEstimate("f-biz", model.MethodIncomeApproach, 180000, 150000, 210000, model.ConfidenceLow),
		confirmedEstimate("f-biz", model.MethodAssetApproach, 250000, 200000, 290000, model.ConfidenceMedium),
		// Two for the side shop: the lower median wins, never an average.
		confirmedEstimate("f-shop", model.MethodMarketComparison, 120000, 100000, 130000, model.ConfidenceHigh),
		confirmedEstimate("f-shop", model.MethodIncomeApproach, 80000, 70000, 90000, model.ConfidenceHigh),
	}

	fin := financialSummary(findings)
	if fin.TotalAssets != 330000 {
		t.Errorf("total assets = %v, want 330000 (250000 + 80000)", fin.TotalAssets)
	}
	if fin.TotalLiabilities != 0 {
		t.Errorf("total liabilities = %v, want 0", fin.TotalLiabilities)
	}
	if fin.NetWorth != 330000 {
		t.Errorf("net worth = %v, want 330000", fin.NetWorth)
	}
	if fin.NetWorthLow != 220000 {
		t.Errorf("net worth low = %v, want 220000", fin.NetWorthLow)
	}
	if fin.NetWorthHigh != 510000 {
		t.Errorf("net worth high = %v, want 510000", fin.NetWorthHigh)
	}
	// The weakest estimate anywhere in the rollup sets the confidence.
	if fin.Confidence != model.ConfidenceLow {
		t.Errorf("confidence = %s, want Low", fin.Confidence)
	}
}

func TestFinancialSummary_LiabilitiesSubtract(t *testing.T) {
	findings := []model.Finding{
		confirmedAsset("f-house", model.AssetRealProperty),
		confirmedAsset("f-loan", model.AssetLiability),
		confirmedEstimate("f-house", model.MethodMarketComparison, 500000, 450000, 600000, model.ConfidenceHigh),
		confirmedEstimate("f-loan", model.MethodTracing, 200000, 180000, 220000, model.ConfidenceMedium),
	}

	fin := financialSummary(findings)
	if fin.TotalAssets != 500000 || fin.TotalLiabilities != 200000 {
		t.Errorf("totals = %v / %v, want 500000 / 200000", fin.TotalAssets, fin.TotalLiabilities)
	}
	if fin.NetWorth != 300000 {
		t.Errorf("net worth = %v, want 300000", fin.NetWorth)
	}
	// Worst case pairs the lowest asset bound with the highest liability bound.
	if fin.NetWorthLow != 230000 {
		t.Errorf("net worth low = %v, want 230000", fin.NetWorthLow)
	}
	if fin.NetWorthHigh != 420000 {
		t.Errorf("net worth high = %v, want 420000", fin.NetWorthHigh)
	}
	if fin.Confidence != model.ConfidenceMedium {
		t.Errorf("confidence = %s, want Medium", fin.Confidence)
	}
}

func TestFinancialSummary_IgnoresUnconfirmedAndUnmatched(t *testing.T) {
	provisional := confirmedEstimate("f-biz", model.MethodIncomeApproach, 900000, 900000, 900000, model.ConfidenceLow)
	provisional.Status = model.StatusProvisional

	provAsset := confirmedAsset("f-prov", model.AssetBusinessInterest)
	provAsset.Status = model.StatusProvisional

	findings := []model.Finding{
		confirmedAsset("f-biz", model.AssetBusinessInterest),
		provAsset,
		confirmedEstimate("f-biz", model.MethodMarketComparison, 100000, 90000, 110000, model.ConfidenceMedium),
		provisional,
		// No confirmed asset carries these IDs.
		confirmedEstimate("f-ghost", model.MethodMarketComparison, 5000000, 5000000, 5000000, model.ConfidenceHigh),
		confirmedEstimate("f-prov", model.MethodMarketComparison, 70000, 70000, 70000, model.ConfidenceHigh),
	}

	fin := financialSummary(findings)
	if fin.TotalAssets != 100000 {
		t.Errorf("total assets = %v, want 100000", fin.TotalAssets)
	}
	if fin.NetWorthLow != 90000 || fin.NetWorthHigh != 110000 {
		t.Errorf("range = [%v, %v], want [90000, 110000]", fin.NetWorthLow, fin.NetWorthHigh)
	}
}

func TestFinancialSummary_NoConfirmedEstate(t *testing.T) {
	fin := financialSummary(nil)
	if fin.TotalAssets != 0 || fin.TotalLiabilities != 0 || fin.NetWorth != 0 {
		t.Errorf("empty estate rolled up to %+v", fin)
	}
	if fin.Confidence != model.ConfidenceUncertain {
		t.Errorf("confidence = %s, want Uncertain", fin.Confidence)
	}
}

func TestImmediateActions(t *testing.T) {
	conceal := func(id model.FindingID, scheme model.SchemeCategory, tier int, status model.FindingStatus) model.Finding {
		return model.Finding{
			ID:          id,
			Kind:        model.KindConcealment,
			Status:      status,
			Concealment: &model.ConcealmentFlag{Scheme: scheme, Tier: tier},
		}
	}
	findings := []model.Finding{
		conceal("f-structuring", model.SchemeStructuring, 3, model.StatusConfirmed),
		conceal("f-offshore", model.SchemeOffshore, 4, model.StatusConfirmed),
		conceal("f-minor", model.SchemeDigitalAsset, 2, model.StatusConfirmed),
		conceal("f-unproven", model.SchemeOffshore, 4, model.StatusProvisional),
		conceal("f-odd", model.SchemeCategory("commingling"), 3, model.StatusConfirmed),
	}

	acts := immediateActions(findings)
	if len(acts) != 3 {
		t.Fatalf("actions = %d, want 3: %+v", len(acts), acts)
	}
	// Critical sorts ahead of high regardless of finding order.
	if acts[0].FindingID != "f-offshore" || acts[0].Urgency != UrgencyCritical {
		t.Errorf("acts[0] = %+v, want critical offshore first", acts[0])
	}
	if !strings.Contains(acts[0].Action, "preservation letters") {
		t.Errorf("offshore action = %q", acts[0].Action)
	}
	if acts[1].FindingID != "f-structuring" || acts[1].Urgency != UrgencyHigh {
		t.Errorf("acts[1] = %+v, want high structuring", acts[1])
	}
	if !strings.Contains(acts[1].Action, "structured transfers") {
		t.Errorf("structuring action = %q", acts[1].Action)
	}
	// Unmapped schemes still get a generic preservation step.
	if acts[2].FindingID != "f-odd" || !strings.Contains(acts[2].Action, "Preserve all records") {
		t.Errorf("acts[2] = %+v", acts[2])
	}
}

func TestDiscoveryPriorities(t *testing.T) {
	valuation := confirmedEstimate("f-house", model.MethodMarketComparison, 400000, 350000, 450000, model.ConfidenceHigh)

	provBiz := confirmedAsset("f-prov", model.AssetBusinessInterest)
	provBiz.Status = model.StatusProvisional

	r := &run{
		boundaries: []model.DocumentType{model.DocTaxReturn},
		unverified: []string{"Cure and re-submit broken.pdf: no extracted content"},
		findings: []model.Finding{
			confirmedAsset("f-biz", model.AssetBusinessInterest), // unvalued: needs an appraisal
			confirmedAsset("f-house", model.AssetRealProperty),   // valued: no entry
			confirmedAsset("f-chk", model.AssetBankAccount),      // statements value themselves
			provBiz,
			valuation,
		},
	}

	got := discoveryPriorities(r)
	want := []string{
		"Obtain tax_return records; none were provided",
		"Cure and re-submit broken.pdf: no extracted content",
		"Commission an independent valuation of the business_interest holding in finding f-biz",
	}
	if len(got) != len(want) {
		t.Fatalf("discovery = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("discovery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
