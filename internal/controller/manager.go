package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stagehand-live/stagehand/internal/config"
)

// ErrUnknownController reports a one-shot dispatch to a name nobody
// registered. Lookups are case-sensitive.
var ErrUnknownController = fmt.Errorf("controller: unknown controller")

// Manager owns the registered controllers and the per-model tunables they
// read. Controllers receive their config through closures over
// [Manager.Config], so a SetConfig (model switch or hot reload) applies on
// each controller's next cycle.
type Manager struct {
	mu       sync.RWMutex
	cfg      *config.ControllerConfig
	idle     []Idle
	oneShots []OneShot
}

// NewManager creates a manager seeded with cfg (nil falls back to defaults).
func NewManager(cfg *config.ControllerConfig) *Manager {
	if cfg == nil {
		cfg = config.DefaultControllerConfig()
	}
	return &Manager{cfg: cfg}
}

// Config returns the current controller tunables.
func (m *Manager) Config() *config.ControllerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetConfig swaps the tunables and restarts the idle controllers whose
// sections changed, so edits apply mid-cycle instead of next model load.
func (m *Manager) SetConfig(cfg *config.ControllerConfig) {
	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	idle := append([]Idle(nil), m.idle...)
	m.mu.Unlock()

	diff := config.DiffController(old, cfg)
	if diff.Empty() {
		return
	}
	slog.Info("controller config changed", "sections", diff.Changed)

	changed := make(map[string]bool, len(diff.Changed))
	for _, name := range diff.Changed {
		changed[name] = true
	}
	for _, c := range idle {
		if !changed[c.Name()] {
			continue
		}
		if c.Running() {
			c.Stop()
		}
		if c.Enabled() {
			c.Start()
		}
	}
}

// Register adds idle controllers.
func (m *Manager) Register(controllers ...Idle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle = append(m.idle, controllers...)
}

// RegisterOneShot adds one-shot controllers.
func (m *Manager) RegisterOneShot(controllers ...OneShot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShots = append(m.oneShots, controllers...)
}

// StartAllIdle starts every enabled idle controller that is not already
// running. Start is idempotent per controller, so calling this repeatedly
// is safe.
func (m *Manager) StartAllIdle() {
	m.mu.RLock()
	idle := append([]Idle(nil), m.idle...)
	m.mu.RUnlock()

	for _, c := range idle {
		if !c.Enabled() {
			continue
		}
		c.Start()
	}
}

// StopAllIdle cancels every idle controller without waiting for cycles to
// unwind.
func (m *Manager) StopAllIdle() {
	m.mu.RLock()
	idle := append([]Idle(nil), m.idle...)
	m.mu.RUnlock()

	for _, c := range idle {
		c.StopNoWait()
	}
}

// PauseIdle is StopAllIdle under its control-surface name.
func (m *Manager) PauseIdle() { m.StopAllIdle() }

// OneShotByName returns the registered one-shot with the given name.
func (m *Manager) OneShotByName(name string) (OneShot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.oneShots {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ExecuteOneShot dispatches to the named one-shot controller and blocks
// until it finishes.
func (m *Manager) ExecuteOneShot(ctx context.Context, name string, args ...any) error {
	c, ok := m.OneShotByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownController, name)
	}
	return c.Execute(ctx, args...)
}
