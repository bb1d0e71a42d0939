package badger

import (
	"context"
	"testing"

	"github.com/spikeflow/spikeflow/pkg/journal"
)

func TestBadgerJournalSuite(t *testing.T) {
	suite := &journal.JournalTestSuite{
		NewJournal: func(t *testing.T) journal.Journal {
			j, err := New(&Config{Path: t.TempDir(), ValueLogFileSize: 1 << 20, NumVersionsToKeep: 1})
			if err != nil {
				t.Fatalf("failed to open badger journal: %v", err)
			}
			return j
		},
	}
	suite.RunAllTests(t)
}

func TestBadgerJournal_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := New(&Config{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := &journal.Entry{Kind: journal.KindSpikeEmitted, Name: "a"}
	if err := j.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j, err = New(&Config{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()

	second := &journal.Entry{Kind: journal.KindSpikeWiped, Name: "a"}
	if err := j.Append(ctx, second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("sequence must keep growing across reopen: %d then %d", first.Seq, second.Seq)
	}
	_, total, err := j.List(ctx, nil)
	if err != nil || total != 2 {
		t.Errorf("expected 2 persisted entries, got %d (%v)", total, err)
	}
}

func TestBadgerJournal_InMemory(t *testing.T) {
	j, err := New(&Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()
	if err := j.Append(context.Background(), &journal.Entry{Kind: journal.KindStateAdded, Name: "s"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}
