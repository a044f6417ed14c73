package logger

import (
	"log/slog"
	"strconv"
)

// Attr helpers keep attribute keys consistent across the kit. Helpers taking
// a nilable value return an empty Attr for nil, which slog drops from the
// record.

// Error records err under "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups the non-nil errors under "errors", indexed by position.
func Errors(errs ...error) slog.Attr {
	attrs := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			attrs = append(attrs, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(attrs) == 0 {
		return slog.Attr{}
	}
	return Group("errors", attrs...)
}

// Group nests attrs under name.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// UserID records the account identifier under "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// FeatureID records the catalog feature id under "feature_id".
func FeatureID(id string) slog.Attr {
	return slog.String("feature_id", id)
}

// Tier records a subscription tier under "tier".
func Tier(tier any) slog.Attr {
	if tier == nil {
		return slog.Attr{}
	}
	return slog.Any("tier", tier)
}

// Component records the emitting component under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records a lifecycle event name under "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Duration records a duration under "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
