package catalog

import "errors"

var (
	// ErrUnknownFeature indicates a feature id absent from the catalog.
	ErrUnknownFeature = errors.New("catalog: unknown feature")

	// ErrInvalidCatalog indicates the catalog configuration is internally
	// inconsistent. Surfaced at startup, never per-request.
	ErrInvalidCatalog = errors.New("catalog: invalid feature catalog configuration")

	// ErrUnsupportedVersion indicates a catalog document with a schema
	// version this build does not understand.
	ErrUnsupportedVersion = errors.New("catalog: unsupported catalog schema version")
)
