// Package journal records the lifecycle of spikes and activations so that
// a running engine can be inspected after the fact.
package journal

import (
	"context"
	"fmt"
	"time"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindSpikeEmitted        Kind = "spike.emitted"
	KindSpikeWiped          Kind = "spike.wiped"
	KindActivationFired     Kind = "activation.fired"
	KindActivationCompleted Kind = "activation.completed"
	KindActivationFailed    Kind = "activation.failed"
	KindActivationAborted   Kind = "activation.aborted"
	KindStateAdded          Kind = "state.added"
	KindStateRemoved        Kind = "state.removed"
)

// Entry is one journal record.
type Entry struct {
	// Seq is assigned by the journal on append and grows monotonically.
	Seq     uint64            `json:"seq"`
	Kind    Kind              `json:"kind"`
	Subject string            `json:"subject"`
	Name    string            `json:"name"`
	Tick    int64             `json:"tick"`
	Detail  map[string]string `json:"detail,omitempty"`
	Time    time.Time         `json:"time"`
}

// Filter narrows List results.
type Filter struct {
	Kinds []Kind `json:"kinds,omitempty"`
	// Name matches the signal or state name exactly when set.
	Name string `json:"name,omitempty"`
	// AfterSeq returns only entries with a larger sequence number.
	AfterSeq uint64 `json:"after_seq"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// Matches reports whether e passes every condition of f except paging.
func (f *Filter) Matches(e *Entry) bool {
	if f == nil {
		return true
	}
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Journal is an append-only log of entries.
type Journal interface {
	// Append stores e and sets its Seq.
	Append(ctx context.Context, e *Entry) error
	// List returns matching entries in sequence order and the total number
	// of matches before paging.
	List(ctx context.Context, filter *Filter) ([]*Entry, int, error)
	Close() error
}

// Page applies the offset and limit of filter to entries.
func Page(entries []*Entry, filter *Filter) []*Entry {
	if filter == nil {
		return entries
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return []*Entry{}
		}
		entries = entries[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(entries) {
		entries = entries[:filter.Limit]
	}
	return entries
}

// UnavailableError indicates that the backend cannot be reached.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("journal unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure encoding or decoding an entry.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// Nop discards every entry.
type Nop struct{}

func (Nop) Append(context.Context, *Entry) error { return nil }

func (Nop) List(context.Context, *Filter) ([]*Entry, int, error) { return []*Entry{}, 0, nil }

func (Nop) Close() error { return nil }
