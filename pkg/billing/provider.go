package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stillmind/companionkit/pkg/entitlement"
)

// RemoteEntitlements is the billing source of truth's view of one account.
type RemoteEntitlements struct {
	Tier              entitlement.Tier
	TrialStartedAt    time.Time // zero when no trial was ever started remotely
	TrialDurationDays int
	FetchedAt         time.Time
}

// EntitlementSource fetches an account's entitlements from the remote
// billing service. Network failures are expected: callers treat any error
// as "stay on last known-good local state", never as a loss of
// entitlements.
//
// Implementations must honor context cancellation; the subscription manager
// bounds every fetch with a timeout.
type EntitlementSource interface {
	FetchEntitlements(ctx context.Context, userID uuid.UUID) (*RemoteEntitlements, error)
}
