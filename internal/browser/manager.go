package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/neboloop/wplace-painter/internal/logging"
)

// LaunchFunc starts a driver for cfg. headless selects the headless
// instance.
type LaunchFunc func(ctx context.Context, cfg Config, headless bool) (Driver, error)

// Manager owns the running browsers. One headed and one headless instance
// are launched lazily and shared by all users.
type Manager struct {
	mu sync.Mutex

	config  Config
	launch  LaunchFunc
	drivers map[bool]Driver // headless -> driver
	started bool
}

var (
	managerOnce sync.Once
	manager     *Manager
)

// GetManager returns the singleton browser manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = NewManager(nil)
	})
	return manager
}

// NewManager returns a manager that starts drivers with launch. A nil
// launch selects the engine's real driver.
func NewManager(launch LaunchFunc) *Manager {
	if launch == nil {
		launch = launchDriver
	}
	return &Manager{
		launch:  launch,
		drivers: make(map[bool]Driver),
	}
}

// Start records the configuration. Browsers are launched on first use.
func (m *Manager) Start(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	resolved, err := ResolveConfig(cfg)
	if err != nil {
		return err
	}
	m.config = resolved
	m.started = true
	return nil
}

// Config returns the resolved config.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Driver returns the shared driver, launching it on first use. Config.Headless
// forces the headless instance.
func (m *Manager) Driver(ctx context.Context, headless bool) (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil, fmt.Errorf("browser manager not started")
	}
	headless = headless || m.config.Headless

	if d, ok := m.drivers[headless]; ok {
		return d, nil
	}

	mode := "headed"
	if headless {
		mode = "headless"
	}
	logging.Debugf("[browser] launching %s %s", mode, m.config.Engine)
	d, err := m.launch(ctx, m.config, headless)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s browser: %w", m.config.Engine, err)
	}
	m.drivers[headless] = d
	return d, nil
}

// NewPage opens a page on the driver matching opts.Headless.
func (m *Manager) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	d, err := m.Driver(ctx, opts.Headless)
	if err != nil {
		return nil, err
	}
	return d.NewPage(ctx, opts)
}

// Close implements Driver so the manager can be handed to callers that
// only need pages.
func (m *Manager) Close() error {
	return m.Stop()
}

// Stop closes every running browser.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var firstErr error
	for headless, d := range m.drivers {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.drivers, headless)
	}
	if m.config.Engine != EngineChrome {
		if err := stopPlaywright(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.started = false
	return firstErr
}

func launchDriver(ctx context.Context, cfg Config, headless bool) (Driver, error) {
	if cfg.Engine == EngineChrome {
		return newCDPDriver(ctx, cfg, headless)
	}
	return newPlaywrightDriver(cfg, headless)
}
