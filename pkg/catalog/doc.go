// Package catalog provides the static feature registry mapping feature ids
// to required subscription tiers and crisis-criticality flags.
//
// The catalog is loaded once at process start, either from code via New or
// from a versioned YAML document via LoadYAML, and is immutable afterwards.
// Construction validates the whole configuration and rejects it outright on
// inconsistency; in particular, a feature marked critical may never depend
// on a remote check, because critical features must resolve fully offline.
//
// Lookups for unknown ids return ErrUnknownFeature. That is a
// programming-error class, not a user-facing condition: callers deny access
// and log loudly instead of failing the request path.
package catalog
