package requestlog

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/config"
)

// Logger fans entries out to its backends. Backend failures are logged and
// never returned to the caller. A nil or disabled Logger drops entries.
type Logger struct {
	backends []Backend
	enabled  bool
	logger   zerolog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithBackend adds a backend.
func WithBackend(b Backend) Option {
	return func(l *Logger) {
		if b != nil {
			l.backends = append(l.backends, b)
		}
	}
}

// WithLogger sets the logger used to report backend failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// Disabled turns the logger into a no-op.
func Disabled() Option {
	return func(l *Logger) {
		l.enabled = false
	}
}

// New creates a logger.
func New(opts ...Option) *Logger {
	l := &Logger{enabled: true, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether entries are recorded.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled && len(l.backends) > 0
}

// Log writes e to every backend.
func (l *Logger) Log(ctx context.Context, e *Entry) {
	if !l.Enabled() || e == nil {
		return
	}
	for _, b := range l.backends {
		if err := b.Write(ctx, e); err != nil {
			l.logger.Warn().Err(err).Str("request_id", e.ID).Msg("request log write failed")
		}
	}
}

// Reader returns the first backend that can read entries back.
func (l *Logger) Reader() (Reader, bool) {
	if l == nil {
		return nil, false
	}
	for _, b := range l.backends {
		if r, ok := b.(Reader); ok {
			return r, true
		}
	}
	return nil, false
}

// Close closes every backend.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var errs []error
	for _, b := range l.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds a logger with a JSONL backend and, when SQLitePath is
// set, a SQLite backend.
func FromConfig(cfg config.RequestLogConfig, logger zerolog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return New(Disabled(), WithLogger(logger)), nil
	}
	opts := []Option{WithLogger(logger)}

	jsonl, err := NewJSONLBackend(cfg.Dir, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithBackend(jsonl))

	if cfg.SQLitePath != "" {
		db, err := NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			_ = jsonl.Close()
			return nil, err
		}
		opts = append(opts, WithBackend(db))
	}
	return New(opts...), nil
}
