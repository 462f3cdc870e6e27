package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibberwallet/wavebridge/internal/wire"
)

// newTestJournal opens an in-memory journal.
func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOutboundLifecycle(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	e, err := j.RecordOutbound(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Seq)
	assert.Equal(t, Outbound, e.Direction)
	assert.Equal(t, StatusPending, e.Status)
	assert.NotEmpty(t, e.ID)
	assert.Empty(t, e.MessageType)

	settled, err := j.Settle(ctx, e.ID, StatusFailed, "UNAVAILABLE: audio session not available")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, settled.Status)
	assert.Equal(t, "UNAVAILABLE: audio session not available", settled.Error)
	assert.False(t, settled.Updated.IsZero())

	got, err := j.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, e.Time.Unix(), got.Time.Unix())
}

func TestUnknownIDs(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	_, err := j.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = j.Settle(ctx, "missing", StatusSent, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmitJournalsReceivedMessages(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	msg, err := wire.NewMessage(wire.TypeError, wire.ErrorMessage{Message: "denied", Code: "USER_REJECTED"}, time.Now())
	require.NoError(t, err)
	frame, err := wire.Encode(msg)
	require.NoError(t, err)

	j.Emit("onAudioLevelChanged", map[string]interface{}{"level": 0.3})
	j.Emit("onMessageReceived", map[string]interface{}{"message": "plain"})
	j.Emit("onMessageReceived", map[string]interface{}{"message": frame, "messageType": "error"})

	entries, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Inbound, entries[0].Direction)
	assert.Equal(t, StatusReceived, entries[0].Status)
	assert.Equal(t, "plain", entries[0].Text)
	assert.Equal(t, "error", entries[1].MessageType)
}

func TestListQuery(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			_, err := j.RecordOutbound(ctx, "out")
			require.NoError(t, err)
		} else {
			j.Emit("onMessageReceived", map[string]interface{}{"message": "in"})
		}
	}

	all, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i, e := range all {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	page, err := j.List(ctx, Query{After: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Seq)
	assert.Equal(t, uint64(4), page[1].Seq)

	rx, err := j.List(ctx, Query{Direction: Inbound})
	require.NoError(t, err)
	require.Len(t, rx, 3)
	for _, e := range rx {
		assert.Equal(t, Inbound, e.Direction)
	}

	none, err := j.List(ctx, Query{After: 6})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConcurrentWritesBecomeVisibleInOrder(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if w%2 == 0 {
					_, err := j.RecordOutbound(ctx, "out")
					assert.NoError(t, err)
				} else {
					j.Emit("onMessageReceived", map[string]interface{}{"message": "in"})
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Every snapshot must be a gap-free prefix of the sequence.
	checkPrefix := func() int {
		entries, err := j.List(ctx, Query{Limit: MaxLimit})
		require.NoError(t, err)
		for i, e := range entries {
			require.Equal(t, uint64(i+1), e.Seq, "gap before seq %d", e.Seq)
		}
		return len(entries)
	}
	for {
		select {
		case <-done:
			assert.Equal(t, writers*perWriter, checkPrefix())
			return
		default:
			checkPrefix()
		}
	}
}

func TestListHonorsContext(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.RecordOutbound(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = j.List(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = j.RecordOutbound(ctx, "y")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	first, err := j.RecordOutbound(ctx, "before restart")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "before restart", got.Text)

	second, err := j.RecordOutbound(ctx, "after restart")
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	entries, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
}

func TestRetentionSetsExpiry(t *testing.T) {
	ctx := context.Background()
	j, err := Open(Options{InMemory: true, Retention: time.Hour})
	require.NoError(t, err)
	defer j.Close()

	e, err := j.RecordOutbound(ctx, "short lived")
	require.NoError(t, err)

	var expiresAt uint64
	require.NoError(t, j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(e.Seq))
		if err != nil {
			return err
		}
		expiresAt = item.ExpiresAt()
		return nil
	}))
	assert.InDelta(t, float64(time.Now().Add(time.Hour).Unix()), float64(expiresAt), 5)
}
