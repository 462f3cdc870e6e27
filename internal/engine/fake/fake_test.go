package fake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/enginetest"
)

func TestFakeEngineConformance(t *testing.T) {
	drv := NewDriver(Options{PlaybackDuration: 5 * time.Millisecond, Protocols: []int{0, 1, 2}})

	bad := engine.DefaultConfig()
	bad.ProtocolID = 5

	enginetest.RunConformance(t, drv.Factory(), enginetest.Capabilities{
		DriverID:          "generic",
		Config:            engine.DefaultConfig(),
		RejectedConfigs:   []engine.Config{bad},
		CompletionTimeout: 200 * time.Millisecond,
	})
}

type captured struct {
	mu      sync.Mutex
	decoded []string
	levels  []float32
	done    []bool
	errs    []error
}

func (c *captured) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnDecoded: func(text string) {
			c.mu.Lock()
			c.decoded = append(c.decoded, text)
			c.mu.Unlock()
		},
		OnLevel: func(level float32) {
			c.mu.Lock()
			c.levels = append(c.levels, level)
			c.mu.Unlock()
		},
		OnPlaybackComplete: func(ok bool, err error) {
			c.mu.Lock()
			c.done = append(c.done, ok)
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
	}
}

func newFake(t *testing.T, opts Options) (*Engine, *captured) {
	t.Helper()
	rec := &captured{}
	drv := NewDriver(opts)
	e, err := drv.Factory()(engine.DefaultConfig(), rec.callbacks())
	require.NoError(t, err)
	require.Same(t, e, drv.Last())
	return e.(*Engine), rec
}

func TestInjectDecodedOnlyWhileCapturing(t *testing.T) {
	e, rec := newFake(t, Options{})
	ctx := context.Background()

	assert.False(t, e.InjectDecoded("early"))

	require.NoError(t, e.StartCapture(ctx))
	assert.True(t, e.InjectDecoded("one"))
	assert.True(t, e.InjectDecoded("two"))
	assert.True(t, e.InjectLevel(0.4))
	assert.InDelta(t, 0.4, e.Level(), 0.0001)

	require.NoError(t, e.StopCapture(ctx))
	assert.False(t, e.InjectDecoded("late"))
	assert.Equal(t, float32(0), e.Level())

	assert.Equal(t, []string{"one", "two"}, rec.decoded)
	assert.Equal(t, []float32{0.4}, rec.levels)
}

func TestManualPlaybackCompletion(t *testing.T) {
	e, rec := newFake(t, Options{})
	ctx := context.Background()

	require.NoError(t, e.EncodeAndPlay(ctx, "hi"))
	assert.True(t, e.Playing())
	assert.Equal(t, []string{"hi"}, e.Transmitted())

	err := e.EncodeAndPlay(ctx, "again")
	require.Error(t, err)
	assert.ErrorIs(t, engine.NormalizeEngineError(err, nil), engine.ErrBusy)

	assert.True(t, e.CompletePlayback(true, nil))
	assert.False(t, e.CompletePlayback(true, nil))
	assert.False(t, e.Playing())
	assert.Equal(t, []bool{true}, rec.done)
	assert.Nil(t, rec.errs[0])
}

func TestCompletionFailureSimulation(t *testing.T) {
	e, rec := newFake(t, Options{})
	ctx := context.Background()

	e.SetErrorSimulation(OpComplete, "UNAVAILABLE")
	require.NoError(t, e.EncodeAndPlay(ctx, "hi"))
	require.True(t, e.CompletePlayback(true, nil))

	require.Len(t, rec.done, 1)
	assert.False(t, rec.done[0])
	assert.ErrorIs(t, engine.NormalizeEngineError(rec.errs[0], nil), engine.ErrUnavailable)
}

func TestErrorSimulation(t *testing.T) {
	e, _ := newFake(t, Options{})
	ctx := context.Background()

	e.SetErrorSimulation(OpCapture, "UNAVAILABLE")
	e.SetErrorSimulation(OpPlayback, "BUSY")

	err := e.StartCapture(ctx)
	assert.ErrorIs(t, engine.NormalizeEngineError(err, nil), engine.ErrUnavailable)
	err = e.EncodeAndPlay(ctx, "hi")
	assert.ErrorIs(t, engine.NormalizeEngineError(err, nil), engine.ErrBusy)

	e.DisableErrorSimulation()
	assert.NoError(t, e.StartCapture(ctx))
}

func TestCloseAbandonsPlayback(t *testing.T) {
	e, rec := newFake(t, Options{PlaybackDuration: 5 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, e.EncodeAndPlay(ctx, "hi"))
	require.NoError(t, e.Close())
	time.Sleep(20 * time.Millisecond)

	assert.True(t, e.Closed())
	assert.Empty(t, rec.done)
	assert.Error(t, e.StartCapture(ctx))
}

func TestConstructError(t *testing.T) {
	drv := NewDriver(Options{})
	drv.SetConstructError(errors.New("failed to initialize"))

	_, err := drv.Factory()(engine.DefaultConfig(), engine.Callbacks{})
	require.Error(t, err)
	assert.ErrorIs(t, engine.NormalizeEngineErrorWithDriver(err, nil, "ggwave"), engine.ErrInvalidConfig)
	assert.Equal(t, 0, drv.Count())
	assert.Nil(t, drv.Last())
}
