package memory

import (
	"context"
	"testing"

	"github.com/spikeflow/spikeflow/pkg/journal"
)

func TestMemoryJournalSuite(t *testing.T) {
	suite := &journal.JournalTestSuite{
		NewJournal: func(t *testing.T) journal.Journal { return New(0) },
	}
	suite.RunAllTests(t)
}

func TestMemoryJournal_DropsOldest(t *testing.T) {
	j := New(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := j.Append(ctx, &journal.Entry{Kind: journal.KindSpikeEmitted, Name: "a"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, total, err := j.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 || entries[0].Seq != 3 {
		t.Errorf("expected the newest 3 entries starting at seq 3, got %d from %d", total, entries[0].Seq)
	}
}

func TestMemoryJournal_ReturnsCopies(t *testing.T) {
	j := New(10)
	ctx := context.Background()
	e := &journal.Entry{Kind: journal.KindStateAdded, Name: "s", Detail: map[string]string{"k": "v"}}
	if err := j.Append(ctx, e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	e.Detail["k"] = "changed"

	entries, _, _ := j.List(ctx, nil)
	if entries[0].Detail["k"] != "v" {
		t.Error("journal must not alias caller maps")
	}
}

func TestMemoryJournal_CancelledContext(t *testing.T) {
	j := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Append(ctx, &journal.Entry{}); err == nil {
		t.Error("expected error on cancelled context")
	}
}
