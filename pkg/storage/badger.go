// Package storage provides the BadgerDB document store behind the
// storefront server.
//
// A single BadgerEngine holds every collection the server needs and
// implements the store interfaces of the packages that use it:
// auth.AccountStore, audit.Store, catalog.Store and (through
// CounterStore) ratelimit.Store.
//
// Key Structure:
//   - Accounts:        0x10 + id -> JSON(accountRecord)
//   - Account email:   0x11 + email -> id
//   - Audit records:   0x20 + ulid -> JSON(audit.Record), TTL
//   - Audit by email:  0x21 + email + 0x00 + ulid -> empty, TTL
//   - Audit by IP:     0x22 + ip + 0x00 + ulid -> empty, TTL
//   - Counters:        0x30 + key -> JSON(ratelimit.Entry), TTL
//   - Categories:      0x40 + id -> JSON(catalog.Category)
//   - Category slug:   0x41 + slug -> id
//   - Products:        0x42 + id -> JSON(catalog.Product)
//   - Product slug:    0x43 + slug -> id
//
// Audit IDs are ULIDs, so key order is time order and a reverse scan
// returns newest records first.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/storefront")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	authn, err := auth.NewAuthenticator(engine, tokens, auth.DefaultAuthConfig(), logger)
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixAccount      = byte(0x10)
	prefixAccountEmail = byte(0x11)
	prefixAudit        = byte(0x20)
	prefixAuditEmail   = byte(0x21)
	prefixAuditIP      = byte(0x22)
	prefixCounter      = byte(0x30)
	prefixCategory     = byte(0x40)
	prefixCategorySlug = byte(0x41)
	prefixProduct      = byte(0x42)
	prefixProductSlug  = byte(0x43)
)

var (
	ErrStorageClosed = errors.New("storage closed")
	ErrInvalidID     = errors.New("invalid id")

	errNotFound = errors.New("not found")
)

// maxTxnRetries bounds retries of read-modify-write transactions that lose
// an optimistic concurrency conflict.
const maxTxnRetries = 20

// BadgerEngine is the persistent document store.
type BadgerEngine struct {
	db     *badger.DB
	log    *slog.Logger
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// BadgerOptions configures the engine.
type BadgerOptions struct {
	// DataDir is the directory for data files. Ignored when InMemory.
	DataDir string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync after each write.
	SyncWrites bool

	// Logger receives Badger's internal warnings and errors. Nil keeps
	// Badger quiet.
	Logger *slog.Logger
}

// NewBadgerEngine opens a persistent engine in dataDir.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory opens an engine that keeps nothing on disk.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions opens an engine with custom settings.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(&badgerLogger{log: opts.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// small tables: the working set is accounts, audit rows and a catalog
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerEngine{
		db:  db,
		log: logger.With(slog.String("component", "storage")),
		now: time.Now,
	}, nil
}

// Close closes the database. Further calls return ErrStorageClosed.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Sync flushes pending writes to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

// RunGC runs one pass of value-log garbage collection. badger.ErrNoRewrite
// (nothing to collect) is not an error.
func (b *BadgerEngine) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Ping reports whether the engine is open.
func (b *BadgerEngine) Ping(_ context.Context) error {
	return b.checkOpen()
}

// Stats summarizes the engine for operators.
type Stats struct {
	LSMBytes     int64 `json:"lsmBytes"`
	VLogBytes    int64 `json:"vlogBytes"`
	AuditRecords int   `json:"auditRecords"`
}

// Stats reports on-disk sizes and the number of live audit records.
func (b *BadgerEngine) Stats(ctx context.Context) (Stats, error) {
	n, err := b.CountAudit(ctx)
	if err != nil {
		return Stats{}, err
	}
	lsm, vlog := b.Size()
	return Stats{LSMBytes: lsm, VLogBytes: vlog, AuditRecords: n}, nil
}

// Size returns the approximate LSM and value-log sizes in bytes.
func (b *BadgerEngine) Size() (lsm, vlog int64) {
	if b.checkOpen() != nil {
		return 0, 0
	}
	return b.db.Size()
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (b *BadgerEngine) update(fn func(txn *badger.Txn) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (b *BadgerEngine) view(fn func(txn *badger.Txn) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.View(fn)
}

// ============================================================================
// Key and value helpers
// ============================================================================

func key(prefix byte, parts ...string) []byte {
	n := 1
	for _, p := range parts {
		n += len(p) + 1
	}
	k := make([]byte, 0, n)
	k = append(k, prefix)
	for i, p := range parts {
		if i > 0 {
			k = append(k, 0x00)
		}
		k = append(k, p...)
	}
	return k
}

// indexPrefix is prefix + value + 0x00, the scan prefix for one index value.
func indexPrefix(prefix byte, value string) []byte {
	return append(key(prefix, value), 0x00)
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	return txn.Set(k, data)
}

func getString(txn *badger.Txn, k []byte) (string, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", errNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

// scanJSON decodes every value under prefix, in key order.
func scanJSON[T any](txn *badger.Txn, prefix []byte, fn func(*T) error) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v := new(T)
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		}); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes Badger's internal logging to slog. Info and debug
// output is dropped.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Infof(string, ...any)  {}
func (l *badgerLogger) Debugf(string, ...any) {}
