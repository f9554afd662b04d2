package assets

import "kestrel/internal/model"

// Baseline suspicion per scheme family. Offshore movement and digital-asset
// obfuscation start higher because both defeat subpoena reach; business
// manipulation and structuring are visible in records already on file.
var tierBase = map[model.SchemeCategory]int{
	model.SchemeOffshore:             3,
	model.SchemeDigitalAsset:         3,
	model.SchemeBusinessManipulation: 2,
	model.SchemeStructuring:          2,
}

// TierFor assigns a concealment tier from the fixed matrix: the scheme
// category sets the baseline, corroboration strength moves it one step.
// Three or more independent facts raise the tier, a single uncorroborated
// fact lowers it. The result is clamped to 1..4 and is never model-decided.
func TierFor(scheme model.SchemeCategory, independentFacts int) int {
	tier, ok := tierBase[scheme]
	if !ok {
		tier = 1
	}
	switch {
	case independentFacts >= 3:
		tier++
	case independentFacts <= 1:
		tier--
	}
	if tier < 1 {
		tier = 1
	}
	if tier > 4 {
		tier = 4
	}
	return tier
}
