// Package badger provides a kstate.Backend on dgraph-io/badger.
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/birdayz/trench/kstate"
	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a badger backend.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool

	// SyncWrites makes every write durable before it returns.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before a value log file is
	// rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Backend stores counting-store values in badger.
type Backend struct {
	db   *badger.DB
	lock *kstate.DirectoryLock
	log  *slog.Logger

	stopGC    chan struct{}
	gcDone    sync.WaitGroup
	closeOnce sync.Once
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the database described by cfg. Persistent databases take a
// DirectoryLock on cfg.Path.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var (
		opts badger.Options
		lock *kstate.DirectoryLock
	)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		lock = kstate.NewDirectoryLock(cfg.Path)
		if err := lock.Lock(); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	log := cfg.Logger
	if log != nil {
		opts = opts.WithLogger(&badgerLogger{logger: log})
	} else {
		opts = opts.WithLogger(nil)
		log = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Backend{
		db:     db,
		lock:   lock,
		log:    log,
		stopGC: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.gcDone.Add(1)
		go b.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return b, nil
}

func (b *Backend) runGC(interval time.Duration, ratio float64) {
	defer b.gcDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			for {
				err := b.db.RunValueLogGC(ratio)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.log.Warn("value log gc failed", slog.Any("error", err))
					}
					break
				}
			}
		}
	}
}

func (b *Backend) Get(k []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kstate.ErrKeyNotFound
	}
	return out, err
}

func (b *Backend) Set(k, v []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (b *Backend) Delete(k []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// Close stops garbage collection, closes the database and releases the
// directory lock.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopGC)
		b.gcDone.Wait()
		err = b.db.Close()
		if b.lock != nil {
			if unlockErr := b.lock.Unlock(); err == nil {
				err = unlockErr
			}
		}
	})
	return err
}

var _ kstate.Backend = (*Backend)(nil)
