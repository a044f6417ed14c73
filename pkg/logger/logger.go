// Package logger builds slog loggers with the output format, level, and
// context-derived attributes the companion daemon needs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/stillmind/companionkit/pkg/environment"
)

// Format selects the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type settings struct {
	level      slog.Level
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	handler    *slog.HandlerOptions
	extractors []ContextExtractor
}

// Option adjusts logger construction.
type Option func(*settings)

// WithLevel sets the minimum level. The default is Info.
func WithLevel(l slog.Level) Option {
	return func(s *settings) { s.level = l }
}

// WithFormat sets the encoding. An unknown format panics so a
// misconfigured daemon fails before serving traffic.
func WithFormat(f Format) Option {
	return func(s *settings) {
		if f != FormatJSON && f != FormatText {
			panic(fmt.Errorf("logger: unknown format %q", f))
		}
		s.format = f
	}
}

// WithOutput redirects log output. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.output = w
		}
	}
}

// WithHandlerOptions replaces the slog handler options entirely.
func WithHandlerOptions(opts *slog.HandlerOptions) Option {
	return func(s *settings) {
		if opts != nil {
			s.handler = opts
		}
	}
}

// WithAttr attaches static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(s *settings) {
		s.attrs = append(s.attrs, attrs...)
	}
}

// WithContextExtractors registers extractors run on each record.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(s *settings) {
		for _, ex := range extractors {
			if ex != nil {
				s.extractors = append(s.extractors, ex)
			}
		}
	}
}

// WithContextValue logs the context value stored under key as attribute name
// whenever it is present.
func WithContextValue(name string, key any) Option {
	return func(s *settings) {
		if name == "" || key == nil {
			return
		}
		s.extractors = append(s.extractors, func(ctx context.Context) (slog.Attr, bool) {
			if v := ctx.Value(key); v != nil {
				return slog.Any(name, v), true
			}
			return slog.Attr{}, false
		})
	}
}

func preset(service string, env environment.Environment, level slog.Level, format Format) Option {
	return func(s *settings) {
		if service == "" {
			return
		}
		s.level = level
		s.format = format
		s.attrs = append(s.attrs,
			slog.String("service", service),
			slog.String("env", string(env)),
		)
	}
}

// WithDevelopment switches to text output at debug level and tags records
// with the service name.
func WithDevelopment(service string) Option {
	return preset(service, environment.Development, slog.LevelDebug, FormatText)
}

// WithStaging tags records for staging with JSON output at info level.
func WithStaging(service string) Option {
	return preset(service, environment.Staging, slog.LevelInfo, FormatJSON)
}

// WithProduction tags records for production with JSON output at info level.
func WithProduction(service string) Option {
	return preset(service, environment.Production, slog.LevelInfo, FormatJSON)
}

// WithEnvironment picks the preset matching env, falling back to development
// for anything unrecognized.
func WithEnvironment(env string, service string) Option {
	switch environment.Parse(env) {
	case environment.Production:
		return WithProduction(service)
	case environment.Staging:
		return WithStaging(service)
	default:
		return WithDevelopment(service)
	}
}

// New builds a slog.Logger from the options. Defaults are JSON output to
// stdout at info level.
func New(opts ...Option) *slog.Logger {
	s := settings{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(&s)
	}

	handlerOpts := s.handler
	if handlerOpts == nil {
		handlerOpts = &slog.HandlerOptions{Level: s.level}
	}

	var handler slog.Handler
	switch s.format {
	case FormatText:
		handler = slog.NewTextHandler(s.output, handlerOpts)
	default:
		handler = slog.NewJSONHandler(s.output, handlerOpts)
	}
	if len(s.attrs) > 0 {
		handler = handler.WithAttrs(s.attrs)
	}

	return slog.New(newContextHandler(handler, s.extractors))
}

// SetAsDefault installs l as the process-wide slog default.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
