package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"vidsync/logger"
)

// Listener is notified after a configuration change has been applied.
type Listener func(old, updated Configuration)

// Manager owns the live configuration. It is safe for concurrent use.
type Manager struct {
	path string
	log  logger.Logger

	mu  sync.RWMutex
	cfg Configuration

	listenersMu sync.Mutex
	listeners   []Listener
}

// Load reads the YAML file at path (a missing file yields defaults), applies
// .env files and environment overrides, and validates the result.
func Load(path string) (*Manager, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg, log: logger.NewNop()}, nil
}

// NewManager wraps an in-memory configuration. An empty path disables persistence.
func NewManager(cfg Configuration, path string) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg, log: logger.NewNop()}, nil
}

// SetLogger replaces the logger used for reload diagnostics.
func (m *Manager) SetLogger(l logger.Logger) {
	m.mu.Lock()
	m.log = l
	m.mu.Unlock()
}

func readConfig(path string) (Configuration, error) {
	var cfg Configuration
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Get returns a snapshot of the current configuration.
func (m *Manager) Get() Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Path returns the backing file path.
func (m *Manager) Path() string {
	return m.path
}

// Subscribe registers fn to be called after every applied change.
func (m *Manager) Subscribe(fn Listener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Update applies fn to a copy of the configuration, validates it, persists it
// and then publishes it. On any error the live configuration is unchanged.
func (m *Manager) Update(fn func(*Configuration)) (Configuration, error) {
	m.mu.Lock()
	old := m.cfg.Clone()
	next := m.cfg.Clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return old, err
	}
	if m.path != "" {
		if err := writeConfig(m.path, next); err != nil {
			m.mu.Unlock()
			return old, err
		}
	}
	m.cfg = next
	m.mu.Unlock()

	m.notify(old, next)
	return next.Clone(), nil
}

// Reload re-reads the backing file and applies it if it differs from the live value.
func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}
	next, err := readConfig(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if reflect.DeepEqual(m.cfg, next) {
		m.mu.Unlock()
		return nil
	}
	old := m.cfg
	m.cfg = next
	m.mu.Unlock()

	m.notify(old, next)
	return nil
}

func (m *Manager) notify(old, updated Configuration) {
	m.listenersMu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(old.Clone(), updated.Clone())
	}
}

// Watch reloads the configuration whenever the backing file changes on disk.
// The directory is watched so editors that save via rename are picked up.
// It returns once the watcher is installed; watching stops when ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	target := filepath.Clean(m.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := m.Reload(); err != nil {
					m.currentLogger().Warn("Config reload failed, keeping previous configuration", logger.Error(err))
					continue
				}
				m.currentLogger().Debug("Config file change processed", logger.String("path", target))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.currentLogger().Warn("Config watcher error", logger.Error(err))
			}
		}
	}()
	return nil
}

func (m *Manager) currentLogger() logger.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

// writeConfig persists cfg as YAML via temp file + rename.
func writeConfig(path string, cfg Configuration) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
