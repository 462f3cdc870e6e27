package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gibberwallet/wavebridge/internal/logging"
	"github.com/gibberwallet/wavebridge/internal/wire"
)

// ErrNotFound is returned for an unknown entry.
var ErrNotFound = errors.New("NOT_FOUND")

// Direction of a journaled message.
type Direction string

const (
	Inbound  Direction = "rx"
	Outbound Direction = "tx"
)

// Status of a journaled message.
type Status string

const (
	StatusReceived  Status = "received"
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one journaled message.
type Entry struct {
	Seq         uint64    `json:"seq" msgpack:"seq"`
	ID          string    `json:"id" msgpack:"id"`
	Direction   Direction `json:"direction" msgpack:"direction"`
	Status      Status    `json:"status" msgpack:"status"`
	Text        string    `json:"text" msgpack:"text"`
	MessageType string    `json:"messageType,omitempty" msgpack:"messageType,omitempty"`
	Error       string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Time        time.Time `json:"time" msgpack:"time"`
	Updated     time.Time `json:"updated" msgpack:"updated"`
}

// Query selects entries in sequence order.
type Query struct {
	// After skips entries with Seq <= After.
	After uint64
	// Limit caps the result; 0 means DefaultLimit.
	Limit int
	// Direction keeps only one direction when set.
	Direction Direction
}

// Query limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Options configures a Journal.
type Options struct {
	// Dir holds the database files. Required unless InMemory.
	Dir string
	// InMemory keeps everything in memory.
	InMemory bool
	// Retention expires entries after the given age. Zero keeps them.
	Retention time.Duration
}

var entriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wavebridge_journal_entries_total",
		Help: "Messages written to the journal, by direction",
	},
	[]string{"direction"},
)

var (
	entryPrefix = []byte("msg/")
	seqKey      = []byte("seq/msg")
	indexPrefix = []byte("id/")
)

// Journal stores messages keyed by a monotonic sequence.
type Journal struct {
	db        *badger.DB
	seq       *badger.Sequence
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time

	// mu serializes read-modify-write of entries.
	mu sync.Mutex
}

// Open opens or creates a journal.
func Open(opts Options) (*Journal, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("journal: Options.Dir is required for on-disk mode")
	}
	log := logging.Component("journal")

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{log: log})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: sequence: %w", err)
	}

	return &Journal{
		db:        db,
		seq:       seq,
		retention: opts.Retention,
		log:       log,
		now:       time.Now,
	}, nil
}

// Close releases the sequence lease and closes the database.
func (j *Journal) Close() error {
	if err := j.seq.Release(); err != nil {
		j.log.Warn().Err(err).Msg("sequence release failed")
	}
	return j.db.Close()
}

// Emit implements the bridge event sink. Received messages are journaled;
// other events are ignored.
func (j *Journal) Emit(name string, body map[string]interface{}) {
	if name != "onMessageReceived" {
		return
	}
	text, _ := body["message"].(string)
	if _, err := j.add(Inbound, StatusReceived, text); err != nil {
		j.log.Error().Err(err).Msg("failed to journal received message")
	}
}

// RecordOutbound journals a message about to be transmitted.
func (j *Journal) RecordOutbound(ctx context.Context, text string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	return j.add(Outbound, StatusPending, text)
}

// Settle records the outcome of an outbound message.
func (j *Journal) Settle(ctx context.Context, id string, status Status, errMsg string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var e Entry
	err := j.db.Update(func(txn *badger.Txn) error {
		key, err := j.lookup(txn, id)
		if err != nil {
			return err
		}
		if e, err = readEntry(txn, key); err != nil {
			return err
		}
		e.Status = status
		e.Error = errMsg
		e.Updated = j.now().UTC()
		return j.write(txn, e)
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Get returns the entry with the given id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var e Entry
	err := j.db.View(func(txn *badger.Txn) error {
		key, err := j.lookup(txn, id)
		if err != nil {
			return err
		}
		e, err = readEntry(txn, key)
		return err
	})
	return e, err
}

// List returns entries matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	entries := make([]Entry, 0, limit)
	err := j.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = entryPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(entryKey(q.After + 1)); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := msgpack.Unmarshal(val, &e); err != nil {
				j.log.Warn().Err(err).Msg("skipping malformed journal entry")
				continue
			}
			if q.Direction != "" && e.Direction != q.Direction {
				continue
			}
			entries = append(entries, e)
			if len(entries) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// add allocates the sequence and commits under j.mu, so entries become
// visible in sequence order and paging with After never skips one.
func (j *Journal) add(dir Direction, status Status, text string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.seq.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("journal: next sequence: %w", err)
	}

	e := Entry{
		Seq:       n + 1,
		ID:        uuid.NewString(),
		Direction: dir,
		Status:    status,
		Text:      text,
		Time:      j.now().UTC(),
	}
	if t, ok := wire.Peek(text); ok {
		e.MessageType = string(t)
	}

	if err := j.db.Update(func(txn *badger.Txn) error { return j.write(txn, e) }); err != nil {
		return Entry{}, err
	}

	entriesTotal.WithLabelValues(string(dir)).Inc()
	j.log.Debug().Uint64("seq", e.Seq).Str("direction", string(dir)).Int("bytes", len(text)).Msg("message journaled")
	return e, nil
}

// write stores e and its id index.
func (j *Journal) write(txn *badger.Txn, e Entry) error {
	val, err := msgpack.Marshal(e)
	if err != nil {
		return err
	}
	key := entryKey(e.Seq)
	entry := badger.NewEntry(key, val)
	index := badger.NewEntry(indexKey(e.ID), key)
	if j.retention > 0 {
		ttl := j.retention - j.now().Sub(e.Time)
		if ttl <= 0 {
			ttl = time.Second
		}
		entry = entry.WithTTL(ttl)
		index = index.WithTTL(ttl)
	}
	if err := txn.SetEntry(entry); err != nil {
		return err
	}
	return txn.SetEntry(index)
}

func (j *Journal) lookup(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func readEntry(txn *badger.Txn, key []byte) (Entry, error) {
	var e Entry
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return e, err
	}
	return e, msgpack.Unmarshal(val, &e)
}

// entryKey orders entries by sequence under a big-endian suffix.
func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

func indexKey(id string) []byte {
	return append(append([]byte{}, indexPrefix...), id...)
}

// badgerLogger routes badger output to zerolog, dropping info and debug.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn().Msgf(f, v...) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}
