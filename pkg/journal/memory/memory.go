// Package memory provides an in-memory journal bounded by entry count.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/spikeflow/spikeflow/pkg/journal"
)

// DefaultMaxEntries bounds a journal created with a non-positive size.
const DefaultMaxEntries = 10000

// Journal keeps the most recent entries in a ring.
type Journal struct {
	mu      sync.RWMutex
	max     int
	seq     uint64
	entries []*journal.Entry
}

// New creates a journal keeping at most maxEntries entries.
func New(maxEntries int) *Journal {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Journal{max: maxEntries}
}

// Append stores a copy of e.
func (j *Journal) Append(ctx context.Context, e *journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	e.Seq = j.seq
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	j.entries = append(j.entries, copyEntry(e))
	if over := len(j.entries) - j.max; over > 0 {
		j.entries = append(j.entries[:0:0], j.entries[over:]...)
	}
	return nil
}

// List returns copies of matching entries.
func (j *Journal) List(ctx context.Context, filter *journal.Filter) ([]*journal.Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	matched := make([]*journal.Entry, 0)
	for _, e := range j.entries {
		if filter.Matches(e) {
			matched = append(matched, copyEntry(e))
		}
	}
	return journal.Page(matched, filter), len(matched), nil
}

// Close is a no-op.
func (j *Journal) Close() error { return nil }

func copyEntry(e *journal.Entry) *journal.Entry {
	c := *e
	if e.Detail != nil {
		c.Detail = make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			c.Detail[k] = v
		}
	}
	return &c
}
