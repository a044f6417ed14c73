package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/stillmind/companionkit/pkg/entitlement"
)

// Descriptor describes a single gated feature. Descriptors are static
// configuration loaded once at startup and never mutated afterwards.
type Descriptor struct {
	ID          string
	Tier        entitlement.Tier // minimum tier that grants access absent an override
	IsCritical  bool             // must stay open whenever a crisis override is active
	NeedsRemote bool             // grant/deny resolution depends on a remote check
	Description string
}

// RequiredTier implements entitlement.Feature.
func (d Descriptor) RequiredTier() entitlement.Tier { return d.Tier }

// Critical implements entitlement.Feature.
func (d Descriptor) Critical() bool { return d.IsCritical }

// Catalog is a read-only registry mapping feature ids to descriptors.
// Construct it once at process start; lookups are safe for concurrent use
// without synchronization because the registry never changes.
type Catalog struct {
	features map[string]Descriptor
	critical []Descriptor
}

// New builds a catalog from the given descriptors and validates the
// configuration. Validation failures are fatal startup errors, not runtime
// conditions: duplicate ids, empty ids, unknown tiers, and critical features
// that depend on a remote check all reject the whole catalog.
func New(descriptors ...Descriptor) (*Catalog, error) {
	c := &Catalog{features: make(map[string]Descriptor, len(descriptors))}

	for _, d := range descriptors {
		if d.ID == "" {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("feature id cannot be empty"))
		}
		if _, exists := c.features[d.ID]; exists {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("duplicate feature id %q", d.ID))
		}
		if !d.Tier.Valid() {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("feature %q has unknown required tier %q", d.ID, d.Tier))
		}
		// Crisis-critical features must resolve fully offline.
		if d.IsCritical && d.NeedsRemote {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("critical feature %q must not require a remote check", d.ID))
		}

		c.features[d.ID] = d
		if d.IsCritical {
			c.critical = append(c.critical, d)
		}
	}

	sort.Slice(c.critical, func(i, j int) bool {
		return c.critical[i].ID < c.critical[j].ID
	})

	return c, nil
}

// Lookup returns the descriptor for the given feature id.
// Returns ErrUnknownFeature for absent ids. Unknown ids are a programming
// error at the call site; callers should deny access and log loudly rather
// than fail the request path.
func (c *Catalog) Lookup(featureID string) (Descriptor, error) {
	d, ok := c.features[featureID]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownFeature, featureID)
	}
	return d, nil
}

// ListCritical returns every feature marked critical, ordered by id.
// The crisis override controller uses this to know what it must
// unconditionally unlock.
func (c *Catalog) ListCritical() []Descriptor {
	out := make([]Descriptor, len(c.critical))
	copy(out, c.critical)
	return out
}

// Len returns the number of registered features.
func (c *Catalog) Len() int {
	return len(c.features)
}

// CriticalLen reports how many features are flagged critical.
func (c *Catalog) CriticalLen() int {
	return len(c.critical)
}
