package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neboloop/wplace-painter/internal/logging"
)

// Store holds the active configuration and notifies subscribers on change.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	subs []func(*Config)
}

// NewStore returns a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the active configuration. Callers must not mutate it.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// User returns the active settings of one user.
func (s *Store) User(identifier string) (User, bool) {
	return s.Get().User(identifier)
}

// Set replaces the active configuration and calls subscribers.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	subs := append([]func(*Config){}, s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Subscribe registers fn to be called after every Set.
func (s *Store) Subscribe(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Watcher reloads the configuration file into a Store when it changes.
type Watcher struct {
	path    string
	store   *Store
	lookup  TokenLookup
	watcher *fsnotify.Watcher
	delay   time.Duration
}

// NewWatcher watches the directory containing path. Editors often replace
// files instead of writing them, so the directory is watched rather than the
// file itself.
func NewWatcher(path string, store *Store, lookup TokenLookup) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:    path,
		store:   store,
		lookup:  lookup,
		watcher: w,
		delay:   200 * time.Millisecond,
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	name := filepath.Base(w.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// editors may write several times in a row
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.delay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("[config] watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = cfg.ResolveTokens(w.lookup)
	}
	if err != nil {
		logging.Warnf("[config] ignoring change to %s: %v", w.path, err)
		return
	}
	w.store.Set(cfg)
	logging.Infof("[config] reloaded %s (%d users)", w.path, len(cfg.Users))
}
