// SPDX-License-Identifier: MIT

// Package watcher keeps a development content root and the input catalog in
// sync: file changes under the root re-register the affected inputs so the
// next derivation sees fresh content hashes. Development tooling only; in
// production inputs arrive through the upload endpoint.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/content"
	"github.com/cubhouse/mom/internal/derive"
	"github.com/cubhouse/mom/internal/deriver"
	"github.com/cubhouse/mom/internal/log"
	"github.com/cubhouse/mom/internal/storage"
)

// Deriver warms derived artifacts for freshly registered inputs. Satisfied
// by *deriver.Executor; nil disables warming.
type Deriver interface {
	Derive(ctx context.Context, req deriver.Request) (deriver.Response, error)
}

// DefaultDebounce coalesces the write bursts editors produce for one save.
const DefaultDebounce = 500 * time.Millisecond

// registrations are rate-limited so a branch switch touching thousands of
// files cannot monopolize the catalog.
const (
	registerRate  = 50
	registerBurst = 100
)

// Watcher mirrors a directory tree into a tenant's catalog.
type Watcher struct {
	root     string
	tenant   string
	env      string
	catalog  *catalog.Store
	store    storage.Store
	deriver  Deriver
	debounce time.Duration
	logger   zerolog.Logger
	limiter  *rate.Limiter

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a watcher over root for the given tenant.
func New(root, tenant, env string, cat *catalog.Store, store storage.Store, drv Deriver, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		tenant:   tenant,
		env:      env,
		catalog:  cat,
		store:    store,
		deriver:  drv,
		debounce: debounce,
		logger:   log.WithComponent("watcher").With().Str("tenant", tenant).Logger(),
		limiter:  rate.NewLimiter(rate.Limit(registerRate), registerBurst),
	}
}

// Run watches until ctx is done. Individual file failures are logged and
// skipped; only watcher-level failures end the loop.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info().Str("root", w.root).Msg("watching content root")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			w.handleEvent(ctx, fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	if ignored(ev.Name) {
		return
	}

	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		// New directories join the watch; files already inside are picked up
		// by walking once.
		if err := w.addTree(fsw, ev.Name); err != nil {
			w.logger.Warn().Err(err).Str("dir", ev.Name).Msg("could not watch new directory")
		}
		w.scanDir(ctx, ev.Name)
		return
	}

	w.schedule(ctx, ev.Name)
}

// schedule arms (or re-arms) the per-path debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	if w.timers == nil {
		w.timers = make(map[string]*time.Timer)
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.register(ctx, path)
	})
}

// register reads the file and upserts its catalog entry and source bytes.
func (w *Watcher) register(ctx context.Context, path string) {
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("path outside content root")
		return
	}
	rel = filepath.ToSlash(rel)

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the watched root
	if err != nil {
		w.logger.Warn().Err(err).Str("path", rel).Msg("skipping unreadable file")
		return
	}

	in := content.NewInput(rel, data, content.TypeForPath(rel))
	if err := w.catalog.Register(ctx, w.tenant, in); err != nil {
		w.logger.Error().Err(err).Str("path", rel).Msg("catalog registration failed")
		return
	}
	if err := w.store.Put(ctx, derive.SourceKey(w.env, in), data); err != nil {
		w.logger.Warn().Err(err).Str("path", rel).Msg("could not store source bytes")
	}
	w.logger.Debug().Str("path", rel).Str("hash", in.ContentHash.Hex()).Msg("input registered")

	// Warm the passthrough artifact so the edited content is servable under
	// its new derived key immediately.
	if w.deriver != nil {
		req := deriver.Request{Tenant: w.tenant, Path: rel, Derivation: derive.Passthrough{}}
		if _, err := w.deriver.Derive(ctx, req); err != nil {
			w.logger.Warn().Err(err).Str("path", rel).Msg("passthrough warm failed")
		}
	}
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || ignored(path) {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// scanDir registers files that existed before the directory was watched.
func (w *Watcher) scanDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if !ignored(full) {
			w.schedule(ctx, full)
		}
	}
}

// ignored filters editor droppings and hidden files.
func ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasSuffix(base, ".part"):
		return true
	}
	return false
}
