package entitlement

import "fmt"

// Tier represents a subscription entitlement level. Tiers form a total order
// by entitlement breadth: TierNone < TierTrial < TierBasic < TierPremium.
type Tier string

const (
	TierNone    Tier = "none"
	TierTrial   Tier = "trial"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"

	// TierCrisisAccess is a synthetic tier reported only while a crisis
	// override is active. It is never a persisted subscription tier and
	// never participates in tier comparisons.
	TierCrisisAccess Tier = "crisis_access"
)

// tierRank defines the entitlement order used for access comparisons.
// TierCrisisAccess is intentionally absent.
var tierRank = map[Tier]int{
	TierNone:    0,
	TierTrial:   1,
	TierBasic:   2,
	TierPremium: 3,
}

// Valid reports whether t is a known persisted tier (crisis_access excluded).
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t grants at least the entitlements of required.
// Unknown tiers (including TierCrisisAccess) never satisfy a requirement.
func (t Tier) AtLeast(required Tier) bool {
	tr, ok := tierRank[t]
	if !ok {
		return false
	}
	rr, ok := tierRank[required]
	if !ok {
		return false
	}
	return tr >= rr
}

// ParseTier converts a string into a Tier, accepting only persisted tiers.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}
