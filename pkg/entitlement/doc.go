// Package entitlement defines subscription tiers, the per-account
// subscription state snapshot, and the pure feature-access evaluator.
//
// The package holds no mutable state of its own. State values are immutable
// snapshots owned by the subscription manager; Evaluate is a side-effect-free
// function of its inputs, which keeps feature checks safe on concurrent read
// paths without locking.
//
// Tiers form a total order (none < trial < basic < premium) used for access
// comparisons. The synthetic crisis_access tier only ever appears in access
// decisions while a crisis override is active; it is never a state's tier.
//
// # Usage
//
//	state := entitlement.NewState()
//	decision := entitlement.Evaluate(desc, state, overrideActive, time.Now())
//	if decision.Granted {
//		// show the feature
//	}
package entitlement
