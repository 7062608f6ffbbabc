package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/config"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/rules"
)

// DefaultDebounce is how long the reloader waits after the last change
// before rebuilding.
const DefaultDebounce = 250 * time.Millisecond

// Reloader rebuilds every router from a routers file and swaps them into a
// registry. A failed rebuild leaves the registry untouched.
type Reloader struct {
	path      string
	registry  *router.Registry
	buildOpts []rules.BuildOption
	debounce  time.Duration
	logger    zerolog.Logger
	onReload  func(error)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	pending time.Time
}

// ReloadOption configures a Reloader.
type ReloadOption func(*Reloader)

// WithBuildOptions passes opts to rules.Build on every reload.
func WithBuildOptions(opts ...rules.BuildOption) ReloadOption {
	return func(r *Reloader) {
		r.buildOpts = append(r.buildOpts, opts...)
	}
}

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) ReloadOption {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithReloadLogger sets the reloader logger.
func WithReloadLogger(logger zerolog.Logger) ReloadOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// OnReload registers a callback run after every watched reload.
func OnReload(fn func(error)) ReloadOption {
	return func(r *Reloader) {
		r.onReload = fn
	}
}

// NewReloader creates a reloader for the routers file at path.
func NewReloader(path string, registry *router.Registry, opts ...ReloadOption) *Reloader {
	r := &Reloader{
		path:     path,
		registry: registry,
		debounce: DefaultDebounce,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload loads and builds the routers file and replaces the registry
// contents. Returns the number of routers installed.
func (r *Reloader) Reload() (int, error) {
	rf, err := config.LoadRouters(r.path)
	if err != nil {
		return 0, err
	}
	set, err := rules.Build(rf, r.buildOpts...)
	if err != nil {
		return 0, fmt.Errorf("build %s: %w", r.path, err)
	}
	if err := r.registry.Replace(set.Routers); err != nil {
		return 0, err
	}
	return len(set.Routers), nil
}

// Watch starts watching the routers file. The parent directory is watched
// so editors that replace the file by rename are picked up.
func (r *Reloader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.path, err)
	}
	r.watcher = watcher
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.done = make(chan struct{})
	go r.loop()
	r.logger.Info().Str("path", r.path).Msg("watching routers file")
	return nil
}

// Close stops watching.
func (r *Reloader) Close() error {
	if r.watcher == nil {
		return nil
	}
	r.cancel()
	<-r.done
	return r.watcher.Close()
}

func (r *Reloader) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.debounce / 2)
	defer ticker.Stop()

	target := filepath.Clean(r.path)
	for {
		select {
		case <-r.ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.mu.Lock()
				r.pending = time.Now()
				r.mu.Unlock()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Err(err).Msg("routers watcher error")

		case <-ticker.C:
			r.mu.Lock()
			due := !r.pending.IsZero() && time.Since(r.pending) >= r.debounce
			if due {
				r.pending = time.Time{}
			}
			r.mu.Unlock()
			if due {
				r.apply()
			}
		}
	}
}

func (r *Reloader) apply() {
	n, err := r.Reload()
	if err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("routers reload failed; keeping previous routers")
	} else {
		r.logger.Info().Str("path", r.path).Int("routers", n).Msg("routers reloaded")
	}
	if r.onReload != nil {
		r.onReload(err)
	}
}
