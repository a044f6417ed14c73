package subscription_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillmind/companionkit/pkg/billing"
	"github.com/stillmind/companionkit/pkg/catalog"
	"github.com/stillmind/companionkit/pkg/crisis"
	"github.com/stillmind/companionkit/pkg/entitlement"
	"github.com/stillmind/companionkit/pkg/kvstore"
	"github.com/stillmind/companionkit/svc/subscription"
)

// testClock is a mutable time source shared between the manager and the
// crisis controller in a fixture.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// failingStore delegates to a memory store but fails writes to chosen keys.
type failingStore struct {
	kvstore.Store
	mu       sync.Mutex
	failKeys map[string]error
}

func newFailingStore() *failingStore {
	return &failingStore{Store: kvstore.NewMemoryStore(), failKeys: make(map[string]error)}
}

func (s *failingStore) failKey(key string, err error) {
	s.mu.Lock()
	s.failKeys[key] = err
	s.mu.Unlock()
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	err := s.failKeys[key]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value)
}

type fixture struct {
	mgr    *subscription.Manager
	store  kvstore.Store
	src    *billing.StaticSource
	clock  *testClock
	userID uuid.UUID
}

func featureSet(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		catalog.Descriptor{ID: "crisis_resources", Tier: entitlement.TierNone, IsCritical: true},
		catalog.Descriptor{ID: "therapist_messaging", Tier: entitlement.TierPremium, IsCritical: true},
		catalog.Descriptor{ID: "daily_checkin", Tier: entitlement.TierNone},
		catalog.Descriptor{ID: "mood_tracking", Tier: entitlement.TierTrial},
		catalog.Descriptor{ID: "guided_journals", Tier: entitlement.TierBasic},
		catalog.Descriptor{ID: "ai_insights", Tier: entitlement.TierPremium, NeedsRemote: true},
	)
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T, store kvstore.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	cat := featureSet(t)
	clk := newTestClock()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctrl, err := crisis.NewController(ctx, store, cat,
		crisis.WithClock(clk.Now), crisis.WithLogger(quiet))
	require.NoError(t, err)

	src := billing.NewStaticSource()
	mgr, err := subscription.NewManager(ctx, cat, ctrl, src, store, subscription.DefaultConfig(),
		subscription.WithClock(clk.Now), subscription.WithLogger(quiet))
	require.NoError(t, err)

	return &fixture{mgr: mgr, store: store, src: src, clock: clk, userID: uuid.New()}
}

// adoptTrial seeds a remote trial and syncs so the fixture holds an active
// trial without going through StartTrial's background goroutine.
func (f *fixture) adoptTrial(t *testing.T, tier entitlement.Tier) {
	t.Helper()
	f.src.SetAccount(f.userID, billing.RemoteEntitlements{
		Tier:              tier,
		TrialStartedAt:    f.clock.Now(),
		TrialDurationDays: 21,
	})
	f.clock.Advance(time.Second)
	require.NoError(t, f.mgr.SyncSubscriptionState(context.Background(), f.userID))
	require.True(t, f.mgr.CurrentState().Trial.Active)
}

func TestManager_CheckFeatureAccess(t *testing.T) {
	t.Parallel()

	t.Run("free feature granted at tier none", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		d := f.mgr.CheckFeatureAccess("daily_checkin")
		assert.True(t, d.Granted)
		assert.Equal(t, entitlement.ReasonTierSufficient, d.Reason)
		assert.False(t, d.CrisisOverride)
	})

	t.Run("gated feature denied below its tier", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		d := f.mgr.CheckFeatureAccess("ai_insights")
		assert.False(t, d.Granted)
		assert.Equal(t, entitlement.ReasonTierInsufficient, d.Reason)
	})

	t.Run("active trial unlocks trial-gated but not premium features", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.adoptTrial(t, entitlement.TierNone)

		assert.True(t, f.mgr.CheckFeatureAccess("mood_tracking").Granted)
		assert.False(t, f.mgr.CheckFeatureAccess("ai_insights").Granted)
	})

	t.Run("expired trial stops elevating", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.adoptTrial(t, entitlement.TierNone)

		f.clock.Advance(22 * 24 * time.Hour)

		assert.False(t, f.mgr.CurrentState().Trial.Active)
		d := f.mgr.CheckFeatureAccess("mood_tracking")
		assert.False(t, d.Granted)
		assert.Equal(t, entitlement.ReasonTierInsufficient, d.Reason)
	})

	t.Run("unknown feature id denies without failing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		d := f.mgr.CheckFeatureAccess("does_not_exist")
		assert.False(t, d.Granted)
		assert.Equal(t, entitlement.ReasonUnknownFeature, d.Reason)
	})

	t.Run("unknown critical id granted under active override", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		require.NoError(t, f.mgr.EnableCrisisMode(context.Background(), "support session"))

		d := f.mgr.CheckCriticalAccess("renamed_crisis_feature")
		assert.True(t, d.Granted)
		assert.Equal(t, entitlement.ReasonCrisisOverride, d.Reason)

		assert.False(t, f.mgr.CheckFeatureAccess("renamed_crisis_feature").Granted)
	})
}

func TestManager_CrisisMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("critical features granted regardless of tier and offline", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		f.src.SetErr(errors.New("no network"))
		f.clock.Advance(time.Second)
		require.ErrorIs(t, f.mgr.SyncSubscriptionState(ctx, f.userID), subscription.ErrSyncFailed)
		require.True(t, f.mgr.CurrentState().Offline)

		require.NoError(t, f.mgr.EnableCrisisMode(ctx, "user testing"))

		for _, id := range []string{"crisis_resources", "therapist_messaging"} {
			d := f.mgr.CheckFeatureAccess(id)
			assert.True(t, d.Granted, id)
			assert.Equal(t, entitlement.ReasonCrisisOverride, d.Reason, id)
			assert.True(t, d.CrisisOverride, id)
		}
	})

	t.Run("override leaves non-critical gating intact", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		require.NoError(t, f.mgr.EnableCrisisMode(ctx, "x"))

		d := f.mgr.CheckFeatureAccess("ai_insights")
		assert.False(t, d.Granted)
		assert.Equal(t, entitlement.ReasonTierInsufficient, d.Reason)
	})

	t.Run("toggling takes effect on the very next check", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		require.False(t, f.mgr.CheckFeatureAccess("therapist_messaging").Granted)

		require.NoError(t, f.mgr.EnableCrisisMode(ctx, "user testing"))
		d := f.mgr.CheckFeatureAccess("therapist_messaging")
		require.True(t, d.Granted)
		assert.Equal(t, entitlement.ReasonCrisisOverride, d.Reason)

		require.NoError(t, f.mgr.DisableCrisisMode(ctx))
		assert.False(t, f.mgr.CheckFeatureAccess("therapist_messaging").Granted)
	})

	t.Run("override persists across manager restarts", func(t *testing.T) {
		t.Parallel()
		store := kvstore.NewMemoryStore()
		f := newFixture(t, store)
		require.NoError(t, f.mgr.EnableCrisisMode(ctx, "before restart"))

		restarted := newFixture(t, store)
		assert.True(t, restarted.mgr.CrisisActive())
		assert.True(t, restarted.mgr.CheckFeatureAccess("therapist_messaging").Granted)
	})
}

func TestManager_StartTrial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("starts the configured trial window", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		require.NoError(t, f.mgr.StartTrial(ctx, f.userID))

		st := f.mgr.CurrentState()
		assert.True(t, st.Trial.Active)
		assert.Equal(t, 21, st.Trial.DurationDays)
		assert.Equal(t, 21, st.Trial.DaysRemainingAt(f.clock.Now()))
		assert.True(t, f.mgr.CheckFeatureAccess("mood_tracking").Granted)
	})

	t.Run("second start is rejected with trial intact", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		require.NoError(t, f.mgr.StartTrial(ctx, f.userID))
		before := f.mgr.CurrentState().Trial

		err := f.mgr.StartTrial(ctx, f.userID)
		assert.ErrorIs(t, err, subscription.ErrTrialAlreadyUsed)
		assert.Equal(t, before, f.mgr.CurrentState().Trial)
	})

	t.Run("history marker blocks a trial after reinstall", func(t *testing.T) {
		t.Parallel()
		store := kvstore.NewMemoryStore()
		f := newFixture(t, store)
		require.NoError(t, f.mgr.StartTrial(ctx, f.userID))

		// Wipe the cached state but keep the marker, like a fresh install
		// restoring against the same account.
		require.NoError(t, store.Delete(ctx, "subscription_state"))
		reinstalled := newFixture(t, store)
		reinstalled.userID = f.userID

		err := reinstalled.mgr.StartTrial(ctx, reinstalled.userID)
		assert.ErrorIs(t, err, subscription.ErrTrialAlreadyUsed)
	})

	t.Run("marker write failure keeps the trial unstarted", func(t *testing.T) {
		t.Parallel()
		store := newFailingStore()
		f := newFixture(t, store)
		store.failKey("trial_history:"+f.userID.String(), errors.New("disk full"))

		err := f.mgr.StartTrial(ctx, f.userID)
		assert.ErrorIs(t, err, subscription.ErrTrialUnavailable)
		assert.False(t, f.mgr.CurrentState().Trial.Started())
	})
}

func TestManager_ConvertTrialToPaid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("converts an active trial to the paid tier", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.adoptTrial(t, entitlement.TierNone)

		require.NoError(t, f.mgr.ConvertTrialToPaid(ctx, "premium"))

		st := f.mgr.CurrentState()
		assert.Equal(t, entitlement.TierPremium, st.Tier)
		assert.False(t, st.Trial.Active)
		assert.True(t, f.mgr.CheckFeatureAccess("ai_insights").Granted)
	})

	t.Run("rejects conversion without an active trial", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)

		err := f.mgr.ConvertTrialToPaid(ctx, "basic")
		assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})

	t.Run("rejects unknown and non-paid plans", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.adoptTrial(t, entitlement.TierNone)

		for _, plan := range []string{"gold", "", "none", "trial"} {
			err := f.mgr.ConvertTrialToPaid(ctx, plan)
			assert.ErrorIs(t, err, subscription.ErrInvalidPlan, plan)
		}
		assert.True(t, f.mgr.CurrentState().Trial.Active)
	})

	t.Run("rejects conversion of an expired trial", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.adoptTrial(t, entitlement.TierNone)
		f.clock.Advance(30 * 24 * time.Hour)

		err := f.mgr.ConvertTrialToPaid(ctx, "basic")
		assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})
}

func TestManager_Sync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("adopts the remote tier on success", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{Tier: entitlement.TierPremium})

		f.clock.Advance(time.Second)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		st := f.mgr.CurrentState()
		assert.Equal(t, entitlement.TierPremium, st.Tier)
		assert.False(t, st.Offline)
		require.NotNil(t, st.LastSyncedAt)
		assert.True(t, f.mgr.CheckFeatureAccess("ai_insights").Granted)
	})

	t.Run("failure retains last known good state", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{Tier: entitlement.TierPremium})
		f.clock.Advance(time.Second)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		f.src.SetErr(errors.New("billing unreachable"))
		f.clock.Advance(time.Minute)
		err := f.mgr.SyncSubscriptionState(ctx, f.userID)
		assert.ErrorIs(t, err, subscription.ErrSyncFailed)

		st := f.mgr.CurrentState()
		assert.Equal(t, entitlement.TierPremium, st.Tier, "entitlements degrade to last known, not none")
		assert.True(t, st.Offline)
		assert.True(t, f.mgr.CheckFeatureAccess("ai_insights").Granted)
	})

	t.Run("next successful sync clears the offline flag", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.src.SetErr(errors.New("down"))
		f.clock.Advance(time.Second)
		require.Error(t, f.mgr.SyncSubscriptionState(ctx, f.userID))
		require.True(t, f.mgr.CurrentState().Offline)

		f.src.SetErr(nil)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{Tier: entitlement.TierBasic})
		f.clock.Advance(time.Second)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		st := f.mgr.CurrentState()
		assert.False(t, st.Offline)
		assert.Equal(t, entitlement.TierBasic, st.Tier)
	})

	t.Run("stale response is discarded", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{Tier: entitlement.TierPremium})
		applied := f.clock.Now().Add(time.Minute)
		f.clock.Set(applied)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		// A sync whose start token predates the applied one must not win,
		// even if its response arrives later.
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{Tier: entitlement.TierBasic})
		f.clock.Set(applied.Add(-30 * time.Second))
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		assert.Equal(t, entitlement.TierPremium, f.mgr.CurrentState().Tier)
	})

	t.Run("adopts a remote trial the local state never saw", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		started := f.clock.Now().Add(-5 * 24 * time.Hour)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{
			Tier:              entitlement.TierNone,
			TrialStartedAt:    started,
			TrialDurationDays: 21,
		})

		f.clock.Advance(time.Second)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		st := f.mgr.CurrentState()
		assert.True(t, st.Trial.Active)
		assert.Equal(t, 16, st.Trial.DaysRemainingAt(f.clock.Now()))
	})

	t.Run("remote trial already expired arrives inactive", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{
			Tier:              entitlement.TierNone,
			TrialStartedAt:    f.clock.Now().Add(-40 * 24 * time.Hour),
			TrialDurationDays: 21,
		})

		f.clock.Advance(time.Second)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		st := f.mgr.CurrentState()
		assert.False(t, st.Trial.Active)
		assert.Equal(t, 0, st.Trial.DaysRemainingAt(f.clock.Now()))
	})
}

func TestManager_LocalState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("state survives a restart", func(t *testing.T) {
		t.Parallel()
		store := kvstore.NewMemoryStore()
		f := newFixture(t, store)
		f.src.SetAccount(f.userID, billing.RemoteEntitlements{Tier: entitlement.TierBasic})
		f.clock.Advance(time.Second)
		require.NoError(t, f.mgr.SyncSubscriptionState(ctx, f.userID))

		restarted := newFixture(t, store)
		st := restarted.mgr.CurrentState()
		assert.Equal(t, entitlement.TierBasic, st.Tier)
	})

	t.Run("corrupted cache resets to defaults and flags resync", func(t *testing.T) {
		t.Parallel()
		store := kvstore.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "subscription_state", []byte("{not json")))

		f := newFixture(t, store)
		st := f.mgr.CurrentState()
		assert.Equal(t, entitlement.TierNone, st.Tier)
		assert.True(t, st.Offline)
	})

	t.Run("unknown record version resets too", func(t *testing.T) {
		t.Parallel()
		store := kvstore.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "subscription_state",
			[]byte(`{"version":99,"state":{"tier":"premium"}}`)))

		f := newFixture(t, store)
		st := f.mgr.CurrentState()
		assert.Equal(t, entitlement.TierNone, st.Tier)
		assert.True(t, st.Offline)
	})
}

func TestManager_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, nil)
	require.NoError(t, f.mgr.StartTrial(ctx, f.userID))
	require.NoError(t, f.mgr.EnableCrisisMode(ctx, "x"))

	require.NoError(t, f.mgr.Reset(ctx, f.userID))

	assert.False(t, f.mgr.CrisisActive())
	st := f.mgr.CurrentState()
	assert.Equal(t, entitlement.TierNone, st.Tier)
	assert.False(t, st.Trial.Started())

	// Account deletion clears the trial history, so a new account on this
	// device can start its own trial.
	assert.NoError(t, f.mgr.StartTrial(ctx, uuid.New()))
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rejects zero config", func(t *testing.T) {
		t.Parallel()
		store := kvstore.NewMemoryStore()
		cat := featureSet(t)
		ctrl, err := crisis.NewController(ctx, store, cat)
		require.NoError(t, err)

		_, err = subscription.NewManager(ctx, cat, ctrl, billing.NewStaticSource(), store, subscription.Config{})
		assert.Error(t, err)
	})

	t.Run("panics on nil dependencies", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			_, _ = subscription.NewManager(ctx, nil, nil, nil, nil, subscription.DefaultConfig())
		})
	})
}
