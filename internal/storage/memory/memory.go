// Package memory provides the in-process match store used by tests, the
// local transport and single-node servers that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"

	"turnforge/internal/state"
	"turnforge/internal/storage"
)

type record struct {
	initial  *state.State
	state    *state.State
	metadata *state.Metadata
	log      []state.LogEntry
}

// Store is a map-backed storage.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// CreateMatch records a new match.
func (s *Store) CreateMatch(ctx context.Context, matchID string, initial *state.State, md *state.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[matchID] = &record{
		initial:  initial.Clone(),
		state:    initial.Clone(),
		metadata: md.Clone(),
	}
	return nil
}

// SetState replaces the match state and appends log entries.
func (s *Store) SetState(ctx context.Context, matchID string, st *state.State, deltalog []state.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[matchID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.state = st.Clone()
	rec.log = append(rec.log, deltalog...)
	return nil
}

// SetMetadata replaces the match metadata.
func (s *Store) SetMetadata(ctx context.Context, matchID string, md *state.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[matchID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.metadata = md.Clone()
	return nil
}

// Fetch loads the requested parts of a match.
func (s *Store) Fetch(ctx context.Context, matchID string, opts storage.FetchOpts) (storage.FetchResult, error) {
	var out storage.FetchResult
	if err := ctx.Err(); err != nil {
		return out, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[matchID]
	if !ok {
		return out, storage.ErrNotFound
	}
	if opts.State {
		out.State = rec.state.Clone()
	}
	if opts.Metadata {
		out.Metadata = rec.metadata.Clone()
	}
	if opts.InitialState {
		out.InitialState = rec.initial.Clone()
	}
	if opts.Log {
		out.Log = append([]state.LogEntry(nil), rec.log...)
	}
	return out, nil
}

// Wipe removes a match.
func (s *Store) Wipe(ctx context.Context, matchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, matchID)
	return nil
}

// ListMatches returns the IDs passing the filter, sorted for determinism.
func (s *Store) ListMatches(ctx context.Context, filter storage.ListFilter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, rec := range s.records {
		if filter.Matches(rec.metadata) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
