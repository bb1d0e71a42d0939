package journal

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// JournalTestSuite runs the same checks against any Journal implementation.
type JournalTestSuite struct {
	NewJournal func(t *testing.T) Journal
}

// RunAllTests runs every check of the suite.
func (s *JournalTestSuite) RunAllTests(t *testing.T) {
	t.Run("AppendAssignsSequence", s.TestAppendAssignsSequence)
	t.Run("ListFilters", s.TestListFilters)
	t.Run("ListPagination", s.TestListPagination)
	t.Run("ConcurrentAppend", s.TestConcurrentAppend)
}

// TestAppendAssignsSequence checks that sequence numbers grow.
func (s *JournalTestSuite) TestAppendAssignsSequence(t *testing.T) {
	j := s.NewJournal(t)
	defer j.Close()
	ctx := context.Background()

	first := &Entry{Kind: KindSpikeEmitted, Subject: "sp-1", Name: "a", Detail: map[string]string{"group": "g-1"}}
	second := &Entry{Kind: KindSpikeWiped, Subject: "sp-1", Name: "a", Tick: 3}
	if err := j.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := j.Append(ctx, second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Fatalf("expected increasing sequence numbers, got %d then %d", first.Seq, second.Seq)
	}

	entries, total, err := j.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d (total %d)", len(entries), total)
	}
	if entries[0].Detail["group"] != "g-1" {
		t.Errorf("expected detail to round-trip, got %v", entries[0].Detail)
	}
	if entries[1].Tick != 3 || entries[1].Kind != KindSpikeWiped {
		t.Errorf("unexpected second entry %+v", entries[1])
	}
	if entries[0].Time.IsZero() {
		t.Error("expected append to stamp the time")
	}
}

// TestListFilters checks kind, name and sequence filtering.
func (s *JournalTestSuite) TestListFilters(t *testing.T) {
	j := s.NewJournal(t)
	defer j.Close()
	ctx := context.Background()

	seed := []*Entry{
		{Kind: KindSpikeEmitted, Subject: "sp-1", Name: "a"},
		{Kind: KindActivationFired, Subject: "act-1", Name: "greet"},
		{Kind: KindSpikeEmitted, Subject: "sp-2", Name: "b"},
		{Kind: KindActivationCompleted, Subject: "act-1", Name: "greet"},
	}
	for _, e := range seed {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, total, err := j.List(ctx, &Filter{Kinds: []Kind{KindSpikeEmitted}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || entries[0].Name != "a" || entries[1].Name != "b" {
		t.Errorf("kind filter returned %d entries: %+v", total, entries)
	}

	entries, total, err = j.List(ctx, &Filter{Name: "greet"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || entries[0].Kind != KindActivationFired {
		t.Errorf("name filter returned %d entries: %+v", total, entries)
	}

	entries, total, err = j.List(ctx, &Filter{AfterSeq: seed[1].Seq})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || entries[0].Seq != seed[2].Seq {
		t.Errorf("sequence filter returned %d entries: %+v", total, entries)
	}
}

// TestListPagination checks limit and offset.
func (s *JournalTestSuite) TestListPagination(t *testing.T) {
	j := s.NewJournal(t)
	defer j.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := j.Append(ctx, &Entry{Kind: KindSpikeEmitted, Subject: fmt.Sprintf("sp-%d", i), Name: "a"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, total, err := j.List(ctx, &Filter{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(entries) != 3 || entries[0].Subject != "sp-2" {
		t.Errorf("unexpected page %+v", entries)
	}

	entries, _, err = j.List(ctx, &Filter{Offset: 20})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(entries))
	}
}

// TestConcurrentAppend checks that concurrent appends get unique sequence
// numbers.
func (s *JournalTestSuite) TestConcurrentAppend(t *testing.T) {
	j := s.NewJournal(t)
	defer j.Close()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	seqs := make([]uint64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := &Entry{Kind: KindActivationFired, Subject: fmt.Sprintf("act-%d", i), Name: "s"}
			errs[i] = j.Append(ctx, e)
			seqs[i] = e.Seq
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Append %d failed: %v", i, errs[i])
		}
		if seen[seqs[i]] {
			t.Fatalf("duplicate sequence number %d", seqs[i])
		}
		seen[seqs[i]] = true
	}
	_, total, err := j.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != n {
		t.Errorf("expected %d entries, got %d", n, total)
	}
}
