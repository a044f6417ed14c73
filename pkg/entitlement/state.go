package entitlement

import "time"

// Trial describes a time-boxed period of elevated access granted without
// payment. A zero Trial means no trial has ever been started.
type Trial struct {
	Active       bool      `json:"active"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	DurationDays int       `json:"duration_days,omitempty"`
}

// Started reports whether a trial was ever begun for this account.
func (t Trial) Started() bool {
	return !t.StartedAt.IsZero()
}

// DaysRemainingAt returns the whole trial days left at the given instant.
// The count reaches 0 exactly when elapsed days equal the trial duration.
func (t Trial) DaysRemainingAt(now time.Time) int {
	if !t.Started() || t.DurationDays <= 0 {
		return 0
	}
	elapsed := int(now.Sub(t.StartedAt).Hours() / 24)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := t.DurationDays - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ActiveAt reports whether the trial window is still open at the given
// instant. A trial becomes inactive exactly when its remaining days hit 0.
func (t Trial) ActiveAt(now time.Time) bool {
	return t.Active && t.DaysRemainingAt(now) > 0
}

// State is an immutable snapshot of an account's subscription standing.
// The subscription manager owns the single authoritative instance and
// replaces it wholesale on every mutation, so readers never observe a
// partially updated record.
type State struct {
	Tier         Tier       `json:"tier"`
	Trial        Trial      `json:"trial,omitzero"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Offline      bool       `json:"offline,omitempty"`
}

// NewState returns the state every account starts with: no tier, no trial,
// never synced.
func NewState() State {
	return State{Tier: TierNone}
}

// EffectiveTierAt returns the tier used for access comparisons at the given
// instant. An active trial elevates accounts below TierTrial to trial-level
// entitlements; it never lowers a paid tier.
func (s State) EffectiveTierAt(now time.Time) Tier {
	if s.Trial.ActiveAt(now) && !s.Tier.AtLeast(TierTrial) {
		return TierTrial
	}
	return s.Tier
}
