package crisis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stillmind/companionkit/pkg/logger"
)

// StorageKey is the durable-store key the controller persists its state under.
const StorageKey = "crisis_override"

// recordVersion tags the persisted record for forward migration.
const recordVersion = 1

// defaultPersistBudget bounds how long Enable and Disable may spend on the
// durable write. The toggle gates crisis-resource visibility, so the whole
// call must finish within low hundreds of milliseconds.
const defaultPersistBudget = 250 * time.Millisecond

// State is the controller's current override standing.
type State struct {
	Active      bool       `json:"active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

type record struct {
	Version int `json:"version"`
	State
}

// CriticalLister is the catalog view the controller needs: the set of
// features it must unconditionally unlock while active.
type CriticalLister interface {
	CriticalLen() int
}

// Controller is the two-state crisis override machine. The in-memory flag is
// the source of truth during a session; durable storage exists only so the
// override survives process restarts.
//
// IsActive is a lock-free read of an atomic snapshot and never performs I/O,
// so it stays correct while network syncs or persistence writes are in
// flight and remains evaluable fully offline.
type Controller struct {
	store         Store
	log           *slog.Logger
	persistBudget time.Duration
	now           func() time.Time

	current atomic.Pointer[State]
	mu      sync.Mutex // serializes Enable/Disable
}

// Store is the durable persistence the controller writes through. Satisfied
// by kvstore.Store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithPersistBudget overrides the hard latency budget for the durable write
// performed by Enable and Disable.
func WithPersistBudget(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.persistBudget = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController loads any persisted override state and returns a ready
// controller. An absent or corrupted record defaults to inactive: being
// silently stuck in crisis mode forever is the more dangerous failure, and
// the user can re-enable in one tap.
//
// Panics if store is nil, matching fail-fast construction for required
// dependencies. critical may be nil; when provided, an empty critical set
// is rejected as a configuration error.
func NewController(ctx context.Context, store Store, critical CriticalLister, opts ...Option) (*Controller, error) {
	if store == nil {
		panic("crisis: store is required")
	}

	c := &Controller{
		store:         store,
		log:           slog.Default(),
		persistBudget: defaultPersistBudget,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if critical != nil && critical.CriticalLen() == 0 {
		return nil, ErrNoCriticalFeatures
	}

	c.current.Store(c.loadPersisted(ctx))
	return c, nil
}

// loadPersisted reads the stored record, defaulting to inactive on absence,
// corruption, or an unknown schema version. Load failures never propagate:
// the controller must come up regardless.
func (c *Controller) loadPersisted(ctx context.Context) *State {
	inactive := &State{}

	raw, err := c.store.Get(ctx, StorageKey)
	if err != nil {
		return inactive
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Warn("crisis override record corrupted, resetting to inactive",
			logger.Error(err))
		return inactive
	}
	if rec.Version != recordVersion {
		c.log.Warn("crisis override record has unknown version, resetting to inactive",
			slog.Int("version", rec.Version))
		return inactive
	}

	st := rec.State
	return &st
}

// IsActive reports whether the override is on. O(1), no I/O, safe from any
// goroutine.
func (c *Controller) IsActive() bool {
	return c.current.Load().Active
}

// Current returns a copy of the override state.
func (c *Controller) Current() State {
	return *c.current.Load()
}

// Enable turns the override on and durably records it before returning.
// Enabling an already-active override is a no-op (no second write).
//
// The in-memory flag flips before persistence, so even when the durable
// write fails the override is honored for the remainder of the session;
// ErrPersistence tells the caller to retry for restart durability.
func (c *Controller) Enable(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.Load().Active {
		return nil
	}

	at := c.now().UTC()
	next := &State{Active: true, ActivatedAt: &at, Reason: reason}
	c.current.Store(next)

	if err := c.persist(ctx, next); err != nil {
		c.log.Error("crisis override enabled in memory only, persistence failed",
			logger.Error(err))
		return errors.Join(ErrPersistence, err)
	}
	return nil
}

// Disable turns the override off, clears its metadata, and durably records
// the cleared state. Disabling an inactive override is a no-op.
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current.Load().Active {
		return nil
	}

	next := &State{}
	c.current.Store(next)

	if err := c.persist(ctx, next); err != nil {
		c.log.Error("crisis override disabled in memory only, persistence failed",
			logger.Error(err))
		return errors.Join(ErrPersistence, err)
	}
	return nil
}

func (c *Controller) persist(ctx context.Context, st *State) error {
	raw, err := json.Marshal(record{Version: recordVersion, State: *st})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.persistBudget)
	defer cancel()
	return c.store.Set(ctx, StorageKey, raw)
}
