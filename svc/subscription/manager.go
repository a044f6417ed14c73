package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stillmind/companionkit/pkg/billing"
	"github.com/stillmind/companionkit/pkg/cache"
	"github.com/stillmind/companionkit/pkg/catalog"
	"github.com/stillmind/companionkit/pkg/crisis"
	"github.com/stillmind/companionkit/pkg/entitlement"
	"github.com/stillmind/companionkit/pkg/kvstore"
	"github.com/stillmind/companionkit/pkg/logger"
)

// decisionKey identifies one cacheable access decision. The effective tier
// (trial-elevated) is part of the key, so a trial expiring mid-TTL cannot
// serve an elevated grant beyond the cache window.
type decisionKey struct {
	featureID      string
	effectiveTier  entitlement.Tier
	overrideActive bool
}

// Manager owns the account's subscription state and is the single entry
// point for the app shell: feature checks, trial lifecycle, billing sync,
// and crisis-mode toggles all go through it.
//
// The state snapshot is replaced atomically on every mutation (copy on
// write), so CheckFeatureAccess and the crisis controller's IsActive stay
// lock-free and safe under concurrent UI polling. Mutations serialize
// through an internal mutex.
type Manager struct {
	catalog *catalog.Catalog
	crisis  *crisis.Controller
	source  billing.EntitlementSource
	store   kvstore.Store

	cfg Config
	log *slog.Logger
	now func() time.Time

	current   atomic.Pointer[entitlement.State]
	decisions *cache.TTLCache[decisionKey, entitlement.Decision]

	mu sync.Mutex // serializes all state mutations
	// lastSyncStarted is the start token of the most recently applied sync.
	// A response whose sync started at or before it is stale and discarded.
	lastSyncStarted time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager loads any locally cached subscription state and returns a
// ready manager. Panics if a required dependency is nil to fail fast during
// initialization; a corrupted local cache resets to defaults and flags the
// state offline so the shell schedules a resync.
func NewManager(ctx context.Context, cat *catalog.Catalog, ctrl *crisis.Controller, source billing.EntitlementSource, store kvstore.Store, cfg Config, opts ...Option) (*Manager, error) {
	if cat == nil {
		panic("subscription: catalog is required")
	}
	if ctrl == nil {
		panic("subscription: crisis controller is required")
	}
	if source == nil {
		panic("subscription: entitlement source is required")
	}
	if store == nil {
		panic("subscription: store is required")
	}
	if cfg.TrialDurationDays <= 0 || cfg.SyncTimeout <= 0 || cfg.DecisionCacheSize <= 0 || cfg.DecisionCacheTTL <= 0 {
		return nil, fmt.Errorf("subscription: invalid config: %+v", cfg)
	}

	m := &Manager{
		catalog:   cat,
		crisis:    ctrl,
		source:    source,
		store:     store,
		cfg:       cfg,
		log:       slog.Default(),
		now:       time.Now,
		decisions: cache.NewTTLCache[decisionKey, entitlement.Decision](cfg.DecisionCacheSize, cfg.DecisionCacheTTL),
	}
	for _, opt := range opts {
		opt(m)
	}

	st := m.loadLocalState(ctx)
	m.current.Store(&st)
	return m, nil
}

// loadLocalState restores the cached snapshot, falling back to a fresh
// default on absence or corruption. Corruption additionally flags the state
// offline so the next sync reconciles from the billing source of truth.
func (m *Manager) loadLocalState(ctx context.Context) entitlement.State {
	raw, err := m.store.Get(ctx, stateKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrKeyNotFound) {
			m.log.Warn("subscription state unreadable, starting fresh",
				logger.Error(err))
		}
		return entitlement.NewState()
	}

	st, ok := decodeState(raw)
	if !ok {
		m.log.Warn("subscription state corrupted, resetting to defaults and flagging resync")
		st = entitlement.NewState()
		st.Offline = true
	}
	return st
}

// CurrentState returns the live snapshot with the trial's active flag
// normalized against the clock, so a trial reads as inactive the moment its
// remaining days reach zero.
func (m *Manager) CurrentState() entitlement.State {
	st := *m.current.Load()
	if st.Trial.Active && !st.Trial.ActiveAt(m.now()) {
		st.Trial.Active = false
	}
	return st
}

// CrisisActive reports whether the crisis override is on.
func (m *Manager) CrisisActive() bool {
	return m.crisis.IsActive()
}

// CheckFeatureAccess decides whether the named feature may be shown.
// Fully in-process: no network, no disk, lock-free reads, a short-lived
// decision cache in front of the evaluator. Unknown feature ids deny and
// log loudly; they never fail the request path.
func (m *Manager) CheckFeatureAccess(featureID string) entitlement.Decision {
	return m.checkAccess(featureID, false)
}

// CheckCriticalAccess is the call-site escape hatch for features the caller
// knows are therapeutic-critical: when the catalog cannot resolve the id
// but the crisis override is active, access is granted anyway. Defense in
// depth for the crisis path; everything else behaves like
// CheckFeatureAccess.
func (m *Manager) CheckCriticalAccess(featureID string) entitlement.Decision {
	return m.checkAccess(featureID, true)
}

func (m *Manager) checkAccess(featureID string, callerCritical bool) entitlement.Decision {
	overrideActive := m.crisis.IsActive()
	state := *m.current.Load()
	now := m.now()

	desc, err := m.catalog.Lookup(featureID)
	if err != nil {
		// Programming-error class: the id is not in the catalog.
		m.log.Error("feature access check for unknown feature",
			logger.FeatureID(featureID),
			slog.Bool("caller_critical", callerCritical),
			slog.Bool("override_active", overrideActive))

		if overrideActive && callerCritical {
			return entitlement.Decision{
				Granted:        true,
				Reason:         entitlement.ReasonCrisisOverride,
				CrisisOverride: true,
			}
		}
		return entitlement.Decision{
			Granted:        false,
			Reason:         entitlement.ReasonUnknownFeature,
			CrisisOverride: overrideActive,
		}
	}

	key := decisionKey{
		featureID:      featureID,
		effectiveTier:  state.EffectiveTierAt(now),
		overrideActive: overrideActive,
	}
	if d, ok := m.decisions.Get(key); ok {
		return d
	}

	d := entitlement.Evaluate(desc, state, overrideActive, now)
	m.decisions.Put(key, d)
	return d
}

// StartTrial begins the account's one free trial. The trial is enforced
// against a durable history marker, not just current state, so it cannot
// be consumed twice. Local trial state is authoritative immediately; a
// best-effort background sync tells the billing service, and the remote
// side catches up eventually.
func (m *Manager) StartTrial(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Get(ctx, trialHistoryKey(userID)); err == nil {
		return ErrTrialAlreadyUsed
	} else if !errors.Is(err, kvstore.ErrKeyNotFound) {
		return errors.Join(ErrTrialUnavailable, err)
	}

	cur := *m.current.Load()
	if cur.Trial.Started() {
		return ErrTrialAlreadyUsed
	}

	startedAt := m.now().UTC()

	marker, err := encodeTrialHistory(userID, startedAt)
	if err != nil {
		return errors.Join(ErrTrialUnavailable, err)
	}
	// The marker write must land before the trial activates, or a reinstall
	// could mint a second trial.
	if err := m.store.Set(ctx, trialHistoryKey(userID), marker); err != nil {
		return errors.Join(ErrTrialUnavailable, err)
	}

	next := cur
	next.Trial = entitlement.Trial{
		Active:       true,
		StartedAt:    startedAt,
		DurationDays: m.cfg.TrialDurationDays,
	}
	m.applyState(ctx, next)

	go m.backgroundSync(context.WithoutCancel(ctx), userID)
	return nil
}

// ConvertTrialToPaid upgrades an active trial to the paid plan identified
// by planID. Fails with ErrInvalidTransition when no trial is running and
// ErrInvalidPlan for unknown or non-paid plans.
func (m *Manager) ConvertTrialToPaid(ctx context.Context, planID string) error {
	tier, err := entitlement.ParseTier(planID)
	if err != nil {
		return errors.Join(ErrInvalidPlan, err)
	}
	if !tier.AtLeast(entitlement.TierBasic) {
		return fmt.Errorf("%w: %q is not a paid plan", ErrInvalidPlan, planID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.current.Load()
	if !cur.Trial.ActiveAt(m.now()) {
		return fmt.Errorf("%w: no active trial to convert", ErrInvalidTransition)
	}

	next := cur
	next.Tier = tier
	next.Trial.Active = false
	m.applyState(ctx, next)
	return nil
}

// SyncSubscriptionState reconciles local state with the remote billing
// source of truth within a bounded timeout.
//
// Failure is an expected condition: the prior snapshot is retained
// untouched apart from the offline flag, so entitlements degrade to "last
// known" rather than "none" on a network blip. Retry is the caller's
// responsibility.
//
// When syncs race, the one that started latest wins: a response whose
// start token is not newer than the currently applied one is discarded on
// arrival.
func (m *Manager) SyncSubscriptionState(ctx context.Context, userID uuid.UUID) error {
	startedAt := m.now().UTC()

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.SyncTimeout)
	remote, err := m.source.FetchEntitlements(fetchCtx, userID)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !startedAt.After(m.lastSyncStarted) {
		// A newer sync already applied; this result is stale either way.
		return nil
	}

	cur := *m.current.Load()

	if err != nil {
		next := cur
		next.Offline = true
		m.applyState(ctx, next)
		return errors.Join(ErrSyncFailed, err)
	}

	next := m.reconcile(cur, remote, startedAt)
	m.lastSyncStarted = startedAt
	m.applyState(ctx, next)
	return nil
}

// reconcile folds the remote view into the local snapshot. The local trial
// stays authoritative once started; a remote-only trial is adopted so a
// reinstall recovers its window.
func (m *Manager) reconcile(cur entitlement.State, remote *billing.RemoteEntitlements, syncedAt time.Time) entitlement.State {
	next := cur
	next.Tier = remote.Tier
	next.LastSyncedAt = &syncedAt
	next.Offline = false

	if !cur.Trial.Started() && !remote.TrialStartedAt.IsZero() {
		days := remote.TrialDurationDays
		if days <= 0 {
			days = m.cfg.TrialDurationDays
		}
		trial := entitlement.Trial{
			Active:       true,
			StartedAt:    remote.TrialStartedAt,
			DurationDays: days,
		}
		trial.Active = trial.DaysRemainingAt(m.now()) > 0
		next.Trial = trial
	}

	return next
}

// EnableCrisisMode turns the crisis override on and invalidates the
// decision cache so the very next check reflects it. The override is
// honored in memory even when persistence fails; the returned
// crisis.ErrPersistence tells the shell to retry for restart durability.
func (m *Manager) EnableCrisisMode(ctx context.Context, reason string) error {
	err := m.crisis.Enable(ctx, reason)
	m.decisions.Purge()
	return err
}

// DisableCrisisMode turns the crisis override off and invalidates the
// decision cache.
func (m *Manager) DisableCrisisMode(ctx context.Context) error {
	err := m.crisis.Disable(ctx)
	m.decisions.Purge()
	return err
}

// Reset wipes the account's local footprint on account deletion: state back
// to defaults, crisis override off, trial history cleared.
func (m *Manager) Reset(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.crisis.Disable(ctx); err != nil {
		m.log.Warn("crisis override not durably cleared during reset",
			logger.Error(err))
	}

	if err := m.store.Delete(ctx, trialHistoryKey(userID)); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, stateKey); err != nil {
		return err
	}

	next := entitlement.NewState()
	m.lastSyncStarted = time.Time{}
	m.current.Store(&next)
	m.decisions.Purge()
	return nil
}

// applyState persists the snapshot best-effort, swaps it in atomically,
// and drops cached decisions. Persistence failures are logged, not fatal:
// the local cache only needs to be right often enough to survive restarts,
// and the next successful mutation rewrites it.
// Callers must hold m.mu.
func (m *Manager) applyState(ctx context.Context, next entitlement.State) {
	if raw, err := encodeState(next); err == nil {
		if err := m.store.Set(ctx, stateKey, raw); err != nil {
			m.log.Warn("subscription state not persisted",
				logger.Error(err))
		}
	}

	m.current.Store(&next)
	m.decisions.Purge()
}

// backgroundSync performs the best-effort remote leg of StartTrial.
func (m *Manager) backgroundSync(ctx context.Context, userID uuid.UUID) {
	if err := m.SyncSubscriptionState(ctx, userID); err != nil {
		m.log.Debug("best-effort sync after trial start failed",
			logger.Error(err))
	}
}
