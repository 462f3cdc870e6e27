package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gibberwallet/wavebridge/internal/logging"
)

// Outcomes recorded in AuditEntry.Outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// FileName is the audit log name inside the log directory.
const FileName = "audit.jsonl"

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	LatencyMs int64                  `json:"latencyMs"`
}

// Rotation limits for the audit file.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation keeps ten 10 MB files for up to 30 days.
func DefaultRotation() Rotation {
	return Rotation{MaxSizeMB: 10, MaxBackups: 10, MaxAgeDays: 30, Compress: true}
}

// Logger implements the audit logging functionality.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	rotator  *lumberjack.Logger
	log      zerolog.Logger
	now      func() time.Time
}

// NewLogger creates an audit logger writing to <logDir>/audit.jsonl with
// size-based rotation.
func NewLogger(logDir string, rot Rotation) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(logDir, FileName)
	rotator := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}

	return &Logger{
		filePath: filePath,
		out:      rotator,
		rotator:  rotator,
		log:      logging.Component("audit"),
		now:      time.Now,
	}, nil
}

// NewWriterLogger creates an audit logger writing to w without rotation.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{
		out: w,
		log: logging.Component("audit"),
		now: time.Now,
	}
}

// LogAction records one operation. code is empty on success.
func (l *Logger) LogAction(ctx context.Context, action string, params map[string]interface{}, code string, latency time.Duration) {
	outcome := OutcomeSuccess
	if code != "" {
		outcome = OutcomeFailure
	} else {
		code = "SUCCESS"
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	l.writeEntry(AuditEntry{
		Timestamp: l.now().UTC(),
		User:      UserFromContext(ctx),
		Action:    action,
		Params:    params,
		Outcome:   outcome,
		Code:      code,
		LatencyMs: latency.Milliseconds(),
	})
}

// writeEntry appends entry as one JSON line.
func (l *Logger) writeEntry(entry AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.log.Error().Err(err).Str("action", entry.Action).Msg("failed to marshal audit entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		l.log.Warn().Str("action", entry.Action).Msg("audit logger closed, entry dropped")
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.log.Error().Err(err).Str("action", entry.Action).Msg("failed to write audit entry")
	}
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return fmt.Errorf("audit logger has no rotating file")
	}
	return l.rotator.Rotate()
}

// Close closes the audit logger and its file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	l.rotator = nil
	return err
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

type userKey struct{}

// WithUser returns a context carrying the acting user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the acting user, or "unknown".
func UserFromContext(ctx context.Context) string {
	if ctx != nil {
		if user, ok := ctx.Value(userKey{}).(string); ok && user != "" {
			return user
		}
	}
	return "unknown"
}
