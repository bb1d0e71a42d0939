// Package badger provides a Badger-backed journal.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/spikeflow/spikeflow/pkg/journal"
)

var (
	entryPrefix = []byte("entry:")
	seqKey      = []byte("meta:seq")
)

// Config holds configuration for the Badger journal.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	// InMemory runs Badger without touching disk; Path is ignored.
	InMemory bool
}

// Journal implements journal.Journal on Badger.
type Journal struct {
	db  *badger.DB
	seq *badger.Sequence
}

// New opens the Badger database described by config.
func New(config *Config) (*Journal, error) {
	opts := badger.DefaultOptions(config.Path).WithLogger(nil)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &journal.UnavailableError{Cause: err}
	}
	seq, err := db.GetSequence(seqKey, 128)
	if err != nil {
		db.Close()
		return nil, &journal.UnavailableError{Cause: err}
	}
	return &Journal{db: db, seq: seq}, nil
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

// Append stores e under the next sequence number.
func (j *Journal) Append(ctx context.Context, e *journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := j.seq.Next()
	if err != nil {
		return &journal.UnavailableError{Cause: err}
	}
	e.Seq = n + 1
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return &journal.SerializationError{Operation: "marshal", Cause: err}
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Seq), data)
	})
}

// List scans entries in sequence order, seeking past AfterSeq.
func (j *Journal) List(ctx context.Context, filter *journal.Filter) ([]*journal.Entry, int, error) {
	matched := make([]*journal.Entry, 0)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := entryPrefix
		if filter != nil && filter.AfterSeq > 0 {
			start = entryKey(filter.AfterSeq + 1)
		}
		for it.Seek(start); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e journal.Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return &journal.SerializationError{Operation: "unmarshal", Cause: err}
			}
			if filter.Matches(&e) {
				matched = append(matched, &e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return journal.Page(matched, filter), len(matched), nil
}

// Close releases the sequence and closes the database.
func (j *Journal) Close() error {
	var errs []error
	if err := j.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := j.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
