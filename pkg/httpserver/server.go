// Package httpserver runs the daemon's HTTP listener with graceful shutdown,
// lifecycle hooks, and health-check handlers.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrStart wraps listen failures and double-start attempts.
	ErrStart = errors.New("httpserver: start failed")
	// ErrShutdown wraps errors from the graceful shutdown path.
	ErrShutdown = errors.New("httpserver: shutdown failed")
)

type options struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	base            *http.Server
	logger          *slog.Logger
	startHooks      []func(*slog.Logger)
	stopHooks       []func(*slog.Logger)
}

// Server runs one http.Server and shuts it down gracefully on context
// cancellation, SIGINT, or SIGTERM.
type Server struct {
	opts options

	mu   sync.Mutex
	srv  *http.Server
	stop sync.Once
}

// New builds a Server from the options. The zero configuration listens on
// :8080 with a 5s shutdown deadline and a discarding logger.
func New(opts ...Option) *Server {
	o := options{
		addr:            ":8080",
		shutdownTimeout: 5 * time.Second,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Server{opts: o}
}

// Run starts listening and blocks until the context is cancelled, a
// termination signal arrives, or the listener fails. A nil handler serves
// 404s. Run returns nil after a clean shutdown; listen failures and repeated
// Run calls return an error matching ErrStart.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, errors.New("already running"))
	}
	srv := s.opts.base
	if srv == nil {
		srv = &http.Server{}
	}
	if srv.Addr == "" {
		srv.Addr = s.opts.addr
	}
	// Values already present on a caller-supplied http.Server win over options.
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = s.opts.readTimeout
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = s.opts.writeTimeout
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = s.opts.idleTimeout
	}
	srv.Handler = handler
	s.srv = srv
	s.mu.Unlock()

	for _, hook := range s.opts.startHooks {
		hook(s.opts.logger)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	var err error
	select {
	case <-ctx.Done():
		_ = s.Shutdown(context.Background())
		err = <-serveErr
	case err = <-serveErr:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrStart, err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured deadline and runs
// the stop hooks. Repeated calls are no-ops.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stop.Do(func() {
		s.mu.Lock()
		srv := s.srv
		s.mu.Unlock()
		if srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
		for _, hook := range s.opts.stopHooks {
			hook(s.opts.logger)
		}
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}
