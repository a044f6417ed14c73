package subscription

import "errors"

var (
	// ErrTrialAlreadyUsed indicates the account already consumed its one
	// trial, now or in the past.
	ErrTrialAlreadyUsed = errors.New("subscription: trial already used for this account")

	// ErrTrialUnavailable indicates trial history could not be verified, so
	// the trial was not started.
	ErrTrialUnavailable = errors.New("subscription: trial temporarily unavailable")

	// ErrInvalidTransition indicates an operation that requires a different
	// current state, such as converting a trial that is not active.
	ErrInvalidTransition = errors.New("subscription: invalid state transition")

	// ErrInvalidPlan indicates an unknown or non-paid plan identifier.
	ErrInvalidPlan = errors.New("subscription: invalid plan")

	// ErrSyncFailed indicates the remote billing reconciliation did not
	// complete. Local state is retained unchanged and flagged offline.
	ErrSyncFailed = errors.New("subscription: remote sync failed")
)
