package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trolley", "session.json")

	st, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, ok, err := st.Get("identity"); err != nil || ok {
		t.Fatalf("empty store Get = ok=%v err=%v", ok, err)
	}
	if err := st.Set("identity", "guest-abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := st.Get("identity")
	if err != nil || !ok || got != "guest-abc" {
		t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := first.Set("identity", "guest-abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Simulates a process restart: fresh handle, same document.
	second, err := NewFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := second.Get("identity")
	if err != nil || !ok || got != "guest-abc" {
		t.Fatalf("reopened Get = %q ok=%v err=%v", got, ok, err)
	}
}

func TestFileStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	st, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := st.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := st.Get("k"); ok {
		t.Fatalf("key survived Remove")
	}
	if err := st.Remove("k"); err != nil {
		t.Fatalf("Remove of absent key: %v", err)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	if _, err := NewFile(path); err == nil {
		t.Fatalf("expected error opening corrupt document")
	}
}
