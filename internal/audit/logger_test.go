package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibberwallet/wavebridge/internal/session"
)

var _ session.AuditLogger = (*Logger)(nil)

func readEntries(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e), scanner.Text())
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestLogAction(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, DefaultRotation())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(dir, FileName), l.GetFilePath())

	ctx := WithUser(context.Background(), "operator-1")
	l.LogAction(ctx, "initialize", map[string]interface{}{"sampleRate": 48000}, "", 12*time.Millisecond)
	l.LogAction(context.Background(), "transmitMessage", nil, "HALF_DUPLEX", time.Millisecond)

	entries := readEntries(t, l.GetFilePath())
	require.Len(t, entries, 2)

	assert.Equal(t, "operator-1", entries[0].User)
	assert.Equal(t, "initialize", entries[0].Action)
	assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "SUCCESS", entries[0].Code)
	assert.Equal(t, int64(12), entries[0].LatencyMs)
	assert.Equal(t, float64(48000), entries[0].Params["sampleRate"])
	assert.False(t, entries[0].Timestamp.IsZero())

	assert.Equal(t, "unknown", entries[1].User)
	assert.Equal(t, OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, "HALF_DUPLEX", entries[1].Code)
	assert.NotNil(t, entries[1].Params)
}

func TestLogFormatIsOneObjectPerLine(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, DefaultRotation())
	require.NoError(t, err)
	l.LogAction(context.Background(), "cleanup", nil, "", 0)
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(l.GetFilePath())
	require.NoError(t, err)
	line := strings.TrimSuffix(string(raw), "\n")
	assert.NotContains(t, line, "\n")

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &fields))
	for _, key := range []string{"ts", "user", "action", "params", "outcome", "code", "latencyMs"} {
		assert.Contains(t, fields, key)
	}
}

func TestCloseDropsLaterEntries(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, DefaultRotation())
	require.NoError(t, err)

	l.LogAction(context.Background(), "initialize", nil, "", 0)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.LogAction(context.Background(), "startListening", nil, "", 0)
	assert.Len(t, readEntries(t, l.GetFilePath()), 1)
	assert.Error(t, l.Rotate())
}

func TestRotateStartsNewFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, Rotation{MaxSizeMB: 1, MaxBackups: 3})
	require.NoError(t, err)
	defer l.Close()

	l.LogAction(context.Background(), "initialize", nil, "", 0)
	require.NoError(t, l.Rotate())
	l.LogAction(context.Background(), "cleanup", nil, "", 0)

	entries := readEntries(t, l.GetFilePath())
	require.Len(t, entries, 1)
	assert.Equal(t, "cleanup", entries[0].Action)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

type nopCloser struct {
	strings.Builder
}

func (*nopCloser) Close() error { return nil }

func TestWriterLogger(t *testing.T) {
	var buf nopCloser
	l := NewWriterLogger(&buf)
	l.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	l.LogAction(WithUser(context.Background(), ""), "stopListening", nil, "NOT_LISTENING", 2*time.Millisecond)

	var e AuditEntry
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &e))
	assert.Equal(t, "unknown", e.User)
	assert.Equal(t, "2025-03-01T12:00:00Z", e.Timestamp.Format(time.RFC3339))
	assert.Equal(t, "", l.GetFilePath())
}
