package assets

import (
	"fmt"

	"kestrel/internal/model"
)

// apportion splits a property's current value into separate and community
// shares by payment tracing: each estate's contribution to the purchase
// price earns that fraction of the appreciation. Pure arithmetic over
// document-sourced figures.
func apportion(fig apportionmentFigures) (separate, community float64, err error) {
	var missing []string
	if fig.PurchasePrice <= 0 {
		missing = append(missing, "purchase price")
	}
	if fig.CurrentValue <= 0 {
		missing = append(missing, "current value")
	}
	if fig.DownPayment < 0 || fig.CommunityPayments < 0 {
		missing = append(missing, "non-negative payment figures")
	}
	if len(missing) > 0 {
		return 0, 0, fmt.Errorf("apportionment needs %v", missing)
	}
	if !fig.SeparateDown {
		return 0, 0, fmt.Errorf("down payment source not traced to separate property")
	}

	appreciation := fig.CurrentValue - fig.PurchasePrice
	separateShare := fig.DownPayment / fig.PurchasePrice
	communityShare := fig.CommunityPayments / fig.PurchasePrice

	separate = fig.DownPayment + appreciation*separateShare
	community = fig.CommunityPayments + appreciation*communityShare
	return separate, community, nil
}

// tracingEstimate wraps the community share as a ValuationEstimate. The
// range spans the untraced remainder: low is the traced community figure
// alone, high adds the residual interest not captured by either estate's
// payments.
func tracingEstimate(assetID model.FindingID, fig apportionmentFigures) (model.ValuationEstimate, error) {
	separate, community, err := apportion(fig)
	if err != nil {
		return model.ValuationEstimate{}, err
	}

	residual := fig.CurrentValue - separate - community
	if residual < 0 {
		residual = 0
	}

	return model.ValuationEstimate{
		AssetID: assetID,
		Method:  model.MethodTracing,
		Point:   community,
		Low:     community,
		High:    community + residual,
	}, nil
}
