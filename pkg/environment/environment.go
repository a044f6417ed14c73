// Package environment tags request contexts and log records with the
// deployment environment the daemon runs in.
package environment

import (
	"context"
	"log/slog"
	"net/http"
)

// Environment names a deployment target.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Parse normalizes s, accepting the short aliases common in .env files.
// Anything unrecognized maps to Development.
func Parse(s string) Environment {
	switch s {
	case string(Production), "prod":
		return Production
	case string(Staging), "stage":
		return Staging
	default:
		return Development
	}
}

type ctxKey struct{}

// WithContext tags ctx with env.
func WithContext(ctx context.Context, env Environment) context.Context {
	return context.WithValue(ctx, ctxKey{}, env)
}

// FromContext reads the environment tag, or the empty string when ctx was
// never tagged.
func FromContext(ctx context.Context) Environment {
	if ctx == nil {
		return ""
	}
	env, _ := ctx.Value(ctxKey{}).(Environment)
	return env
}

func IsProduction(ctx context.Context) bool  { return FromContext(ctx) == Production }
func IsStaging(ctx context.Context) bool     { return FromContext(ctx) == Staging }
func IsDevelopment(ctx context.Context) bool { return FromContext(ctx) == Development }

// Middleware tags every request context with env.
func Middleware(env Environment) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), env)))
		})
	}
}

// LoggerExtractor surfaces the context's environment tag as an "env" log
// attribute.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if env := FromContext(ctx); env != "" {
			return slog.String("env", string(env)), true
		}
		return slog.Attr{}, false
	}
}
