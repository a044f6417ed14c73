package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Server. Options with invalid arguments panic so wiring
// mistakes surface at startup, not under load.
type Option func(*options)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: empty listen address")
	}
	return func(o *options) { o.addr = addr }
}

// WithReadTimeout bounds how long reading a full request may take.
func WithReadTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("httpserver: read timeout must be positive")
	}
	return func(o *options) { o.readTimeout = d }
}

// WithWriteTimeout bounds how long writing a response may take.
func WithWriteTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("httpserver: write timeout must be positive")
	}
	return func(o *options) { o.writeTimeout = d }
}

// WithIdleTimeout bounds how long a keep-alive connection may sit idle.
func WithIdleTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("httpserver: idle timeout must be positive")
	}
	return func(o *options) { o.idleTimeout = d }
}

// WithShutdownTimeout bounds how long Shutdown waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("httpserver: shutdown timeout must be positive")
	}
	return func(o *options) { o.shutdownTimeout = d }
}

// WithServer reuses a caller-supplied http.Server. Its non-zero fields take
// precedence over the package defaults; its Handler is replaced on Run.
func WithServer(srv *http.Server) Option {
	if srv == nil {
		panic("httpserver: nil http.Server")
	}
	return func(o *options) { o.base = srv }
}

// WithLogger sets the logger passed to lifecycle hooks. Nil falls back to a
// discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStartHook runs fn just before the listener starts accepting.
func WithStartHook(fn func(*slog.Logger)) Option {
	if fn == nil {
		panic("httpserver: nil start hook")
	}
	return func(o *options) { o.startHooks = append(o.startHooks, fn) }
}

// WithStopHook runs fn after the listener has drained.
func WithStopHook(fn func(*slog.Logger)) Option {
	if fn == nil {
		panic("httpserver: nil stop hook")
	}
	return func(o *options) { o.stopHooks = append(o.stopHooks, fn) }
}
