package crisis

import "errors"

var (
	// ErrPersistence indicates the override toggled in memory but the
	// durable write did not complete. The in-memory override remains
	// honored for the rest of the session; callers should retry so the
	// state survives a restart.
	ErrPersistence = errors.New("crisis: override persistence failed")

	// ErrNoCriticalFeatures indicates the feature catalog contains nothing
	// for an override to unlock. This is a fatal configuration error: a
	// crisis override that opens zero features is misconfigured by
	// definition.
	ErrNoCriticalFeatures = errors.New("crisis: catalog defines no critical features")
)
