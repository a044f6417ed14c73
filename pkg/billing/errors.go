package billing

import "errors"

var (
	ErrMissingAPIKey       = errors.New("billing: provider API key is required")
	ErrInvalidEnvironment  = errors.New("billing: invalid provider environment")
	ErrProviderUnavailable = errors.New("billing: provider request failed")
	ErrUnknownAccount      = errors.New("billing: account not known to provider")
	ErrUnmappedPrice       = errors.New("billing: provider price not mapped to a tier")
)
