package prefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/lumeo-crm/notifyd/internal/bus"
	"go.uber.org/zap"
)

// Values are the user preferences shared across concurrently open sessions.
// The file is last-write-wins; every session observes changes through the
// watcher rather than caching a value at construction time.
type Values struct {
	NotificationsEnabled bool `toml:"notifications_enabled"`
	SoundEnabled         bool `toml:"sound_enabled"`
}

// Store is the process-wide preference store. Components read the live
// values through its accessors; they must never capture a Values copy for
// later use.
type Store struct {
	path   string
	bus    *bus.Bus
	logger *zap.Logger

	mu sync.RWMutex
	v  Values

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewStore creates a preference store over the given TOML file. Both
// preferences default to enabled until Load observes the file.
func NewStore(path string, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		bus:    b,
		logger: logger,
		v:      Values{NotificationsEnabled: true, SoundEnabled: true},
	}
}

// Load reads the preference file. A missing file keeps the defaults and
// writes them out so other sessions have something to watch.
func (s *Store) Load() error {
	var v Values
	if _, err := toml.DecodeFile(s.path, &v); err != nil {
		if os.IsNotExist(err) {
			return s.save()
		}
		return fmt.Errorf("prefs: load %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
	return nil
}

// Values returns a snapshot of the current preferences.
func (s *Store) Values() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// SoundEnabled reports the live sound preference. Consulted at cue-trigger
// time by controllers constructed long before any toggle.
func (s *Store) SoundEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.SoundEnabled
}

// NotificationsEnabled reports the live notifications preference.
func (s *Store) NotificationsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.NotificationsEnabled
}

// SetSoundEnabled updates and persists the sound preference.
func (s *Store) SetSoundEnabled(enabled bool) error {
	s.mu.Lock()
	s.v.SoundEnabled = enabled
	s.mu.Unlock()
	s.publish()
	return s.save()
}

// SetNotificationsEnabled updates and persists the notifications preference.
func (s *Store) SetNotificationsEnabled(enabled bool) error {
	s.mu.Lock()
	s.v.NotificationsEnabled = enabled
	s.mu.Unlock()
	s.publish()
	return s.save()
}

// Watch reloads the store whenever another session rewrites the preference
// file. The watch runs until ctx is canceled or Close is called.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prefs: watcher: %w", err)
	}
	// Watch the directory: editors and atomic writers replace the file,
	// which would detach a watch on the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("prefs: watch %s: %w", filepath.Dir(s.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.watcher = w
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if evt.Name != s.path {
					continue
				}
				if !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) {
					continue
				}
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("prefs watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Store) reload() {
	var v Values
	if _, err := toml.DecodeFile(s.path, &v); err != nil {
		s.logger.Warn("prefs reload failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	changed := v != s.v
	s.v = v
	s.mu.Unlock()
	if changed {
		s.logger.Info("preferences reloaded",
			zap.Bool("notifications", v.NotificationsEnabled),
			zap.Bool("sound", v.SoundEnabled))
		s.publish()
	}
}

func (s *Store) publish() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: bus.KindPrefsChanged, Timestamp: time.Now(), Payload: s.Values()})
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	v := s.Values()
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
