package entitlement

import "errors"

var (
	ErrInvalidTier = errors.New("entitlement: invalid subscription tier")

	// ErrNilDescriptor indicates Evaluate was called without a feature
	// descriptor. This is a programming error at the call site; the
	// evaluator still returns a deny decision rather than panicking.
	ErrNilDescriptor = errors.New("entitlement: nil feature descriptor")
)
