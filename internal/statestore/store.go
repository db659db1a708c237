// Package statestore persists the mapping from a domain:service:stage key to
// previously resolved remote identifiers.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry holds the remote identifiers resolved for one composite key.
type Entry struct {
	SpecID        string `json:"specId,omitempty"`
	CollectionUID string `json:"collectionUid,omitempty"`
}

// State is the whole persisted document. Entries are added or updated, never
// removed; a stored identifier is trusted until a remote call rejects it.
type State struct {
	Entries map[string]Entry `json:"entries"`
}

// NewState returns an empty state with an initialised entry map.
func NewState() State {
	return State{Entries: map[string]Entry{}}
}

// Entry returns the entry for key, zero-valued when absent.
func (s State) Entry(key string) Entry {
	return s.Entries[key]
}

// Put stores entry under key, allocating the map on first use.
func (s *State) Put(key string, entry Entry) {
	if s.Entries == nil {
		s.Entries = map[string]Entry{}
	}
	s.Entries[key] = entry
}

// Key builds the sanitized composite cache key. Whitespace runs and the ":"
// separator inside each part collapse to a single dash, so the key structure
// stays unambiguous and distinct sanitized inputs map to distinct keys.
func Key(domain, service, stage string) string {
	return sanitize(domain) + ":" + sanitize(service) + ":" + sanitize(stage)
}

func sanitize(part string) string {
	part = strings.ReplaceAll(part, ":", " ")
	return strings.Join(strings.Fields(part), "-")
}

// Store is the persistence port. File-backed in production, in-memory in
// tests.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore persists state as a JSON file, rewritten wholesale on every save.
// There is no atomic-rename guarantee; concurrent writers race, last one
// wins.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state file. A missing file yields an empty state.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state file %s: %w", f.path, err)
	}
	if state.Entries == nil {
		state.Entries = map[string]Entry{}
	}
	return state, nil
}

// Save rewrites the whole state file, creating the parent directory on
// demand.
func (f *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure state directory: %w", err)
		}
	}

	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// MemoryStore keeps state in memory for tests and dry runs.
type MemoryStore struct {
	state State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: NewState()}
}

// Load returns a copy of the held state.
func (m *MemoryStore) Load() (State, error) {
	copied := NewState()
	for key, entry := range m.state.Entries {
		copied.Entries[key] = entry
	}
	return copied, nil
}

// Save replaces the held state.
func (m *MemoryStore) Save(state State) error {
	copied := NewState()
	for key, entry := range state.Entries {
		copied.Entries[key] = entry
	}
	m.state = copied
	return nil
}
