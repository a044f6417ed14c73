package entitlement

import "time"

// Feature is the minimal view of a catalog entry the evaluator needs.
// The catalog package's Descriptor satisfies it; tests can use any stub.
type Feature interface {
	// RequiredTier is the minimum tier that grants access absent an override.
	RequiredTier() Tier
	// Critical reports whether the feature must stay open whenever a crisis
	// override is active, irrespective of tier.
	Critical() bool
}

// Evaluate decides whether a feature is accessible given the current
// subscription snapshot and crisis-override flag.
//
// The function is pure: no I/O, no clock reads (the caller supplies now),
// no error returns for control flow. It is safe to call concurrently
// without synchronization.
//
// Precedence: an active crisis override unconditionally grants critical
// features. Everything else resolves by comparing the account's effective
// tier (trial-elevated when a trial is running) against the required tier.
func Evaluate(f Feature, state State, overrideActive bool, now time.Time) Decision {
	if f == nil {
		return Decision{
			Granted:        false,
			Reason:         ReasonUnknownFeature,
			CrisisOverride: overrideActive,
		}
	}

	if overrideActive && f.Critical() {
		return Decision{
			Granted:        true,
			Reason:         ReasonCrisisOverride,
			CrisisOverride: true,
		}
	}

	if state.EffectiveTierAt(now).AtLeast(f.RequiredTier()) {
		return Decision{
			Granted:        true,
			Reason:         ReasonTierSufficient,
			CrisisOverride: overrideActive,
		}
	}

	return Decision{
		Granted:        false,
		Reason:         ReasonTierInsufficient,
		CrisisOverride: overrideActive,
	}
}
