// Package pairstore is the durable identity-mapping store: a single keyed
// JSON document mapping original IBANs to provisioned sandbox identities.
//
// The document is read fully into memory when the store opens and written
// back atomically (temp file + rename) after every mutation, so a crash
// loses at most the one mutation in flight, never previously committed
// records. A one-time .bak snapshot per run preserves the pre-run state.
package pairstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is a transactional key-value store backed by one JSON file.
// All methods are safe for concurrent use.
type Store[V any] struct {
	path string

	mu      sync.Mutex
	records map[string]V
}

// Open loads the document at path, creating an empty store when the file
// does not exist yet. A malformed document is an error, never silently
// discarded.
func Open[V any](path string) (*Store[V], error) {
	s := &Store[V]{
		path:    path,
		records: make(map[string]V),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pair file %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("parse pair file %s: %w", path, err)
		}
	}
	return s, nil
}

// Get returns the record for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[key]
	return v, ok
}

// Len returns the number of records.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Keys returns all keys in sorted order.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of every record, keyed by identifier.
func (s *Store[V]) All() map[string]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]V, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Put stores a record and flushes the whole document to disk atomically.
// The in-memory record is only updated when the write succeeds.
func (s *Store[V]) Put(key string, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.records[key]
	s.records[key] = value
	if err := s.flushLocked(); err != nil {
		// Roll back so memory and disk stay consistent.
		if existed {
			s.records[key] = previous
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

// Delete removes a record and flushes. Deleting a missing key is a no-op.
func (s *Store[V]) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.records[key]
	if !existed {
		return nil
	}
	delete(s.records, key)
	if err := s.flushLocked(); err != nil {
		s.records[key] = previous
		return err
	}
	return nil
}

// Snapshot writes a .bak copy of the current document next to it, unless
// one already exists. Called once at the start of a run so the pre-run
// mapping can always be recovered.
func (s *Store[V]) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bak := s.path + ".bak"
	if _, err := os.Stat(bak); err == nil {
		return nil // snapshot from an earlier run, keep it
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat snapshot %s: %w", bak, err)
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil // nothing to snapshot yet
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read pair file for snapshot: %w", err)
	}
	if err := os.WriteFile(bak, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", bak, err)
	}
	return nil
}

// flushLocked writes the document atomically: marshal, write to a temp
// file in the same directory, fsync, rename over the target. The rename
// either fully replaces the document or leaves the old one intact.
func (s *Store[V]) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pair file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create pair file directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp pair file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp pair file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp pair file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp pair file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace pair file: %w", err)
	}
	return nil
}
