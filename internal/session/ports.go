package session

import (
	"context"
	"time"

	"github.com/gibberwallet/wavebridge/internal/driver"
	"github.com/gibberwallet/wavebridge/internal/engine"
)

// EngineProvider builds engines for a session. It returns the error table id
// used to normalize the engine's failures.
type EngineProvider interface {
	NewEngine(cfg engine.Config, cb engine.Callbacks) (engine.Engine, string, error)
}

// Compile-time assertion that driver.Manager implements EngineProvider
var _ EngineProvider = (*driver.Manager)(nil)

// FactoryProvider adapts a bare engine.Factory.
type FactoryProvider struct {
	Factory    engine.Factory
	ErrorTable string
}

// NewEngine implements EngineProvider.
func (p FactoryProvider) NewEngine(cfg engine.Config, cb engine.Callbacks) (engine.Engine, string, error) {
	table := p.ErrorTable
	if table == "" {
		table = "generic"
	}
	e, err := p.Factory(cfg, cb)
	return e, table, err
}

// AuditLogger writes audit records for session operations.
// code is empty for successful operations.
type AuditLogger interface {
	LogAction(ctx context.Context, action string, params map[string]interface{}, code string, latency time.Duration)
}
