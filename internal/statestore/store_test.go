package statestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyIsDeterministic(t *testing.T) {
	first := Key("payments", "checkout", "prod")
	second := Key("payments", "checkout", "prod")

	if first != second {
		t.Fatalf("expected identical keys, got %q and %q", first, second)
	}
	if first != "payments:checkout:prod" {
		t.Fatalf("unexpected key: %q", first)
	}
}

func TestKeyCollapsesWhitespace(t *testing.T) {
	got := Key("  payments ", "checkout  service", "prod")
	want := "payments:checkout-service:prod"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestKeyDistinguishesSanitizedInputs(t *testing.T) {
	keys := []string{
		Key("a", "b", "c"),
		Key("a", "b", "d"),
		Key("", "b", "c"),
		Key("a b", "c", "d"),
	}
	seen := map[string]bool{}
	for _, key := range keys {
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
}

func TestKeySeparatorInsidePartsDoesNotCollide(t *testing.T) {
	first := Key("a:b", "c", "d")
	second := Key("a", "b:c", "d")

	if first == second {
		t.Fatalf("expected distinct keys, both are %q", first)
	}
	if first != "a-b:c:d" {
		t.Fatalf("unexpected key: %q", first)
	}
	if second != "a:b-c:d" {
		t.Fatalf("unexpected key: %q", second)
	}
}

func TestFileStoreMissingFileYieldsEmptyState(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Entries) != 0 {
		t.Fatalf("expected empty state, got %d entries", len(state.Entries))
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "postman-ingestion-state.json")
	store := NewFileStore(path)

	state := NewState()
	state.Put("payments:checkout:prod", Entry{SpecID: "spec-1", CollectionUID: "col-1"})
	if err := store.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	entry := loaded.Entry("payments:checkout:prod")
	if entry.SpecID != "spec-1" || entry.CollectionUID != "col-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw state: %v", err)
	}
	if !strings.Contains(string(raw), `"entries"`) {
		t.Fatalf("expected entries wrapper in state file: %s", raw)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, err := NewFileStore(path).Load(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	store := NewMemoryStore()

	state := NewState()
	state.Put("a:b:c", Entry{SpecID: "spec-1"})
	if err := store.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	state.Put("a:b:c", Entry{SpecID: "mutated"})

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Entry("a:b:c").SpecID != "spec-1" {
		t.Fatalf("expected stored copy unaffected by caller mutation")
	}
}
