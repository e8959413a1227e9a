package storage

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// BadgerKV stores values in an embedded badger database.
type BadgerKV struct {
	db     *badger.DB
	logger *log.Logger
}

// NewBadgerKV opens a badger database in dir. An empty dir opens an in-memory database.
func NewBadgerKV(dir string, logger *log.Logger) (*BadgerKV, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(newBadgerLogger(logger.WithPrefix("badger")))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &ErrInternal{Err: errors.Wrap(err, "open badger")}
	}
	return &BadgerKV{db: db, logger: logger}, nil
}

func (b *BadgerKV) Get(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, &ErrInvalidKey{Key: key}
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &ErrKeyNotFound{Key: key}
		}
		return nil, &ErrInternal{Err: err}
	}
	return out, nil
}

func (b *BadgerKV) Set(key string, value []byte) error {
	if !validKey(key) {
		return &ErrInvalidKey{Key: key}
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

func (b *BadgerKV) Close() error {
	if err := b.db.Close(); err != nil {
		b.logger.Error("error closing badger", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

// badgerLogger adapts log.Logger to badger.Logger
type badgerLogger struct {
	logger *log.Logger
}

func newBadgerLogger(logger *log.Logger) badger.Logger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}
