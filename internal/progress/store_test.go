package progress

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entries, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected empty store, got %d entries", len(entries))
	}

	entry := &Entry{
		FolderNumber:  "VR-A01-AAA0090",
		Status:        StatusSucceeded,
		LastAttemptAt: time.Now().UTC(),
		AttemptCount:  1,
	}
	if err := store.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Mutating the original after upsert must not leak into the store.
	entry.Status = StatusFailed

	entries, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, ok := entries["VR-A01-AAA0090"]
	if !ok {
		t.Fatal("Expected entry for VR-A01-AAA0090")
	}
	if got.Status != StatusSucceeded {
		t.Errorf("Expected stored status succeeded, got %s", got.Status)
	}
}

func TestSummarize(t *testing.T) {
	entries := map[string]*Entry{
		"a": {FolderNumber: "a", Status: StatusSucceeded},
		"b": {FolderNumber: "b", Status: StatusFailed, FailureReason: "opd report malformed"},
		"c": {FolderNumber: "c", Status: StatusSkipped, FailureReason: "patient not found"},
		"d": {FolderNumber: "d", Status: StatusPending},
		"e": {FolderNumber: "e", Status: StatusInProgress},
	}

	s := Summarize(entries)
	if s.Total != 5 {
		t.Errorf("Total = %d, want 5", s.Total)
	}
	if s.Succeeded != 1 || s.Failed != 1 || s.Skipped != 1 || s.Pending != 1 || s.InProgress != 1 {
		t.Errorf("Counts wrong: %+v", s)
	}
	if s.Reasons["b"] != "opd report malformed" {
		t.Errorf("Expected failure reason for b, got %q", s.Reasons["b"])
	}
	if _, ok := s.Reasons["a"]; ok {
		t.Error("Succeeded entry must not carry a reason")
	}
}
