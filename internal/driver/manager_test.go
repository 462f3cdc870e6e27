package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/engine/fake"
)

func newTestManager(t *testing.T) (*Manager, *fake.Driver, *fake.Driver) {
	t.Helper()
	a := fake.NewDriver(fake.Options{})
	b := fake.NewDriver(fake.Options{})

	m := NewManager()
	require.NoError(t, m.Register(Driver{
		ID:            "alpha",
		Name:          "Alpha",
		Protocols:     []int{0, 1, 2},
		MinSampleRate: 8000,
		MaxSampleRate: 48000,
		Factory:       a.Factory(),
	}))
	require.NoError(t, m.Register(Driver{
		ID:         "beta",
		Name:       "Beta",
		ErrorTable: "ggwave",
		Factory:    b.Factory(),
	}))
	return m, a, b
}

func TestRegister(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.Equal(t, "alpha", m.GetActive())

	err := m.Register(Driver{ID: "alpha", Factory: fake.NewDriver(fake.Options{}).Factory()})
	assert.Error(t, err)

	err = m.Register(Driver{ID: "nofactory"})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	err = m.Register(Driver{Factory: fake.NewDriver(fake.Options{}).Factory()})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	d, err := m.GetDriver("alpha")
	require.NoError(t, err)
	assert.Equal(t, "generic", d.ErrorTable)
}

func TestListSortedWithActive(t *testing.T) {
	m, _, _ := newTestManager(t)

	list := m.List()
	assert.Equal(t, "alpha", list.ActiveDriverID)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "alpha", list.Items[0].ID)
	assert.Equal(t, "beta", list.Items[1].ID)
}

func TestSetActive(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.SetActive("beta"))
	assert.Equal(t, "beta", m.GetActive())

	err := m.SetActive("gamma")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "beta", m.GetActive())
}

func TestSetActiveRefusedWhileInUse(t *testing.T) {
	m, _, _ := newTestManager(t)
	inUse := true
	m.Guard(func() bool { return inUse })

	err := m.SetActive("beta")
	assert.ErrorIs(t, err, engine.ErrBusy)
	assert.Equal(t, "alpha", m.GetActive())

	// Reselecting the active driver is always fine.
	assert.NoError(t, m.SetActive("alpha"))

	inUse = false
	assert.NoError(t, m.SetActive("beta"))
}

func TestSetActiveRechecksAfterEngineBuilt(t *testing.T) {
	m, a, b := newTestManager(t)

	// The first check passes, then a session initializes on the old driver
	// before the switch is committed.
	checks := 0
	m.Guard(func() bool {
		checks++
		if checks == 1 {
			_, _, err := m.NewEngine(engine.DefaultConfig(), engine.Callbacks{})
			require.NoError(t, err)
			return false
		}
		return a.Count() > 0
	})

	err := m.SetActive("beta")
	assert.ErrorIs(t, err, engine.ErrBusy)
	assert.Equal(t, "alpha", m.GetActive())
	assert.Equal(t, 2, checks)
	assert.Equal(t, 1, a.Count())
	assert.Zero(t, b.Count())
}

func TestNewEngineUsesActiveDriver(t *testing.T) {
	m, a, b := newTestManager(t)

	e, table, err := m.NewEngine(engine.DefaultConfig(), engine.Callbacks{})
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "generic", table)
	assert.Equal(t, 1, a.Count())

	require.NoError(t, m.SetActive("beta"))
	_, table, err = m.NewEngine(engine.DefaultConfig(), engine.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "ggwave", table)
	assert.Equal(t, 1, b.Count())
}

func TestNewEngineRejectsUnsupportedConfig(t *testing.T) {
	m, a, _ := newTestManager(t)

	cfg := engine.DefaultConfig()
	cfg.ProtocolID = 7
	_, _, err := m.NewEngine(cfg, engine.Callbacks{})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	cfg = engine.DefaultConfig()
	cfg.SampleRate = 96000
	_, _, err = m.NewEngine(cfg, engine.Callbacks{})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	assert.Equal(t, 0, a.Count())
}

func TestNewEnginePropagatesFactoryError(t *testing.T) {
	m, a, _ := newTestManager(t)
	a.SetConstructError(errors.New("no input device"))

	_, table, err := m.NewEngine(engine.DefaultConfig(), engine.Callbacks{})
	require.Error(t, err)
	assert.Equal(t, "generic", table)
}

func TestNewEngineWithoutDrivers(t *testing.T) {
	_, _, err := NewManager().NewEngine(engine.DefaultConfig(), engine.Callbacks{})
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}
