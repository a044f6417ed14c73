package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stillmind/companionkit/pkg/entitlement"
)

// StaticSource is an in-memory EntitlementSource for tests and local
// development. Accounts can be seeded or updated at any time; unknown
// accounts resolve to tier none rather than an error, matching how a fresh
// install looks to the real billing service.
//
// Setting Err makes every fetch fail, which is how tests simulate the
// offline path.
type StaticSource struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]RemoteEntitlements
	err      error
	delay    time.Duration
}

// NewStaticSource returns an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{accounts: make(map[uuid.UUID]RemoteEntitlements)}
}

// SetAccount seeds or replaces the remote view of one account.
func (s *StaticSource) SetAccount(userID uuid.UUID, ent RemoteEntitlements) {
	s.mu.Lock()
	s.accounts[userID] = ent
	s.mu.Unlock()
}

// SetErr makes subsequent fetches fail with err; nil restores normal
// behavior.
func (s *StaticSource) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes each fetch wait before responding, for timeout and
// stale-response tests.
func (s *StaticSource) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *StaticSource) FetchEntitlements(ctx context.Context, userID uuid.UUID) (*RemoteEntitlements, error) {
	s.mu.RLock()
	err := s.err
	delay := s.delay
	ent, ok := s.accounts[userID]
	s.mu.RUnlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !ok {
		return &RemoteEntitlements{Tier: entitlement.TierNone, FetchedAt: time.Now().UTC()}, nil
	}

	ent.FetchedAt = time.Now().UTC()
	return &ent, nil
}
