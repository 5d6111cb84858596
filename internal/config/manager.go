package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Manager holds the active configuration and reloads it when the file
// changes on disk. Subscribers get the new config after a successful
// reload; a reload that fails validation keeps the previous config.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	watcher    *fsnotify.Watcher
	onChange   []func(*Config)
	wg         sync.WaitGroup
}

func NewManager(configPath string) (*Manager, error) {
	config, err := LoadFrom(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		config:     config,
		configPath: configPath,
	}, nil
}

// GetConfig returns a copy of the active configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	configCopy := *m.config
	return &configCopy
}

// OnChange registers a callback invoked after each successful reload.
// Must be called before StartWatching.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.watchLoop(ctx)

	log.Debug("config: watching for changes", "path", m.configPath)
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.configPath)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				m.reload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config: watcher error", "err", err)

		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reload() {
	config, err := LoadFrom(m.configPath)
	if err != nil {
		log.Warn("config: reload failed, keeping previous config", "err", err)
		return
	}
	if err := config.Validate(); err != nil {
		log.Warn("config: reloaded config invalid, keeping previous config", "err", err)
		return
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()

	log.Info("config: reloaded")
	for _, fn := range m.onChange {
		fn(config)
	}
}
