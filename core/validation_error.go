package core

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError collects per-field validation messages. It is a url.Values
// so multiple messages can accumulate under one field.
type ValidationError url.Values

// NewValidationError returns an empty ValidationError ready for Add calls.
func NewValidationError() ValidationError {
	return make(ValidationError)
}

// Add appends a message for field.
func (e ValidationError) Add(field, message string) {
	url.Values(e).Add(field, message)
}

// Has reports whether field has at least one message.
func (e ValidationError) Has(field string) bool {
	return len(e[field]) > 0
}

// Error summarizes the first message per field, fields in sorted order so the
// text is stable.
func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		if msgs := e[field]; len(msgs) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", field, msgs[0]))
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
