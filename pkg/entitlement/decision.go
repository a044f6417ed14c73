package entitlement

// Reason explains why an access decision granted or denied a feature.
type Reason string

const (
	// ReasonCrisisOverride means a crisis override forced the grant open.
	ReasonCrisisOverride Reason = "crisis_override"

	// ReasonTierSufficient means the account's tier covers the requirement.
	ReasonTierSufficient Reason = "tier_sufficient"

	// ReasonTierInsufficient means the account's tier is below the requirement.
	ReasonTierInsufficient Reason = "tier_insufficient"

	// ReasonUnknownFeature means the feature id is not in the catalog.
	// Unknown features always deny unless the caller's crisis fallback applies.
	ReasonUnknownFeature Reason = "unknown_feature"
)

// Decision is the transient outcome of a single feature-access query. It is
// recomputed per request (subject to a short-lived cache) and never persisted.
type Decision struct {
	Granted        bool   `json:"granted"`
	Reason         Reason `json:"reason"`
	CrisisOverride bool   `json:"crisis_override"`
}
