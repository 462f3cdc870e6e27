package driver

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gibberwallet/wavebridge/internal/engine"
)

// ErrNotFound is returned for unknown driver ids.
var ErrNotFound = errors.New("NOT_FOUND")

// Driver describes one installed engine driver.
type Driver struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Protocols     []int  `json:"protocols"`
	MinSampleRate int    `json:"minSampleRate"`
	MaxSampleRate int    `json:"maxSampleRate"`

	// ErrorTable selects the token table used to normalize driver errors.
	ErrorTable string `json:"-"`

	Factory engine.Factory `json:"-"`
}

// Supports reports whether cfg is within the driver's advertised range.
func (d Driver) Supports(cfg engine.Config) error {
	if d.MinSampleRate > 0 && cfg.SampleRate < d.MinSampleRate ||
		d.MaxSampleRate > 0 && cfg.SampleRate > d.MaxSampleRate {
		return fmt.Errorf("%w: driver %s serves sample rates [%d, %d], got %d",
			engine.ErrInvalidConfig, d.ID, d.MinSampleRate, d.MaxSampleRate, cfg.SampleRate)
	}
	if len(d.Protocols) == 0 {
		return nil
	}
	for _, p := range d.Protocols {
		if p == cfg.ProtocolID {
			return nil
		}
	}
	return fmt.Errorf("%w: driver %s does not support protocol %d", engine.ErrInvalidConfig, d.ID, cfg.ProtocolID)
}

// DriverList is the response format for GET /drivers.
type DriverList struct {
	ActiveDriverID string   `json:"activeDriverId"`
	Items          []Driver `json:"items"`
}

// Manager manages driver inventory and active selection.
type Manager struct {
	mu             sync.RWMutex
	drivers        map[string]*Driver
	activeDriverID string
	inUse          func() bool

	// builds counts NewEngine driver selections. SetActive compares it
	// across the inUse check to notice an engine built in between.
	builds uint64
}

// NewManager creates an empty driver manager.
func NewManager() *Manager {
	return &Manager{
		drivers: make(map[string]*Driver),
	}
}

// Register adds a driver. The first registered driver becomes active.
func (m *Manager) Register(d Driver) error {
	if d.ID == "" {
		return fmt.Errorf("%w: driver id is required", engine.ErrInvalidConfig)
	}
	if d.Factory == nil {
		return fmt.Errorf("%w: driver %s has no factory", engine.ErrInvalidConfig, d.ID)
	}
	if d.ErrorTable == "" {
		d.ErrorTable = "generic"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.drivers[d.ID]; exists {
		return fmt.Errorf("driver %s already registered", d.ID)
	}
	m.drivers[d.ID] = &d

	if m.activeDriverID == "" {
		m.activeDriverID = d.ID
	}
	return nil
}

// Guard installs a check that refuses driver switches while it reports true.
func (m *Manager) Guard(inUse func() bool) {
	m.mu.Lock()
	m.inUse = inUse
	m.mu.Unlock()
}

// SetActive selects the driver for the next session.
func (m *Manager) SetActive(driverID string) error {
	for {
		m.mu.RLock()
		_, exists := m.drivers[driverID]
		active := m.activeDriverID
		inUse := m.inUse
		builds := m.builds
		m.mu.RUnlock()

		if !exists {
			return fmt.Errorf("%w: driver %s", ErrNotFound, driverID)
		}
		if driverID == active {
			return nil
		}
		// inUse may take the session lock, which is held around NewEngine,
		// so it runs outside m.mu.
		if inUse != nil && inUse() {
			return fmt.Errorf("%w: session initialized on driver %s", engine.ErrBusy, active)
		}

		m.mu.Lock()
		if m.builds == builds && m.activeDriverID == active {
			m.activeDriverID = driverID
			m.mu.Unlock()
			return nil
		}
		// An engine was built or the selection changed since the check.
		m.mu.Unlock()
	}
}

// GetActive returns the active driver id.
func (m *Manager) GetActive() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeDriverID
}

// GetDriver returns a driver by id.
func (m *Manager) GetDriver(driverID string) (Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, exists := m.drivers[driverID]
	if !exists {
		return Driver{}, fmt.Errorf("%w: driver %s", ErrNotFound, driverID)
	}
	return *d, nil
}

// List returns the inventory sorted by id.
func (m *Manager) List() *DriverList {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		items = append(items, *d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	return &DriverList{
		ActiveDriverID: m.activeDriverID,
		Items:          items,
	}
}

// NewEngine builds an engine on the active driver. It returns the driver's
// error table id alongside the engine.
func (m *Manager) NewEngine(cfg engine.Config, cb engine.Callbacks) (engine.Engine, string, error) {
	m.mu.Lock()
	d, exists := m.drivers[m.activeDriverID]
	m.builds++
	m.mu.Unlock()

	if !exists {
		return nil, "generic", fmt.Errorf("%w: no active driver", engine.ErrUnavailable)
	}
	if err := d.Supports(cfg); err != nil {
		return nil, d.ErrorTable, err
	}

	e, err := d.Factory(cfg, cb)
	if err != nil {
		return nil, d.ErrorTable, err
	}
	return e, d.ErrorTable, nil
}
