// Package storage defines the persistence collaborator consumed by the
// session coordinator and the lobby. Implementations live in subpackages;
// the coordinator tolerates any backend that honours the interface.
package storage

import (
	"context"
	"errors"

	"turnforge/internal/state"
)

// ErrNotFound indicates the requested match does not exist.
var ErrNotFound = errors.New("match not found")

// FetchOpts selects which parts of a match record to load.
type FetchOpts struct {
	State        bool
	Metadata     bool
	Log          bool
	InitialState bool
}

// FetchResult carries the requested parts of a match record. Unrequested
// fields are nil.
type FetchResult struct {
	State        *state.State
	Metadata     *state.Metadata
	Log          []state.LogEntry
	InitialState *state.State
}

// ListFilter narrows ListMatches. Zero values match everything.
type ListFilter struct {
	GameName      string
	IsGameover    *bool
	UpdatedBefore int64
	UpdatedAfter  int64
}

// Store persists match records. The coordinator is the sole writer for any
// one match at a time; stores only need atomicity per call, not cross-call
// transactions.
type Store interface {
	// CreateMatch records a new match with its initial state, which is
	// retained verbatim for resets and replay.
	CreateMatch(ctx context.Context, matchID string, initial *state.State, md *state.Metadata) error

	// SetState replaces the match state and appends the given log
	// entries to the match's deltalog.
	SetState(ctx context.Context, matchID string, st *state.State, deltalog []state.LogEntry) error

	// SetMetadata replaces the match metadata.
	SetMetadata(ctx context.Context, matchID string, md *state.Metadata) error

	// Fetch loads the requested parts of a match, or ErrNotFound.
	Fetch(ctx context.Context, matchID string, opts FetchOpts) (FetchResult, error)

	// Wipe removes the match entirely.
	Wipe(ctx context.Context, matchID string) error

	// ListMatches returns the IDs of matches passing the filter.
	ListMatches(ctx context.Context, filter ListFilter) ([]string, error)
}

// Matches reports whether a match's metadata passes the filter. Shared by
// backends so filtering semantics stay uniform.
func (f ListFilter) Matches(md *state.Metadata) bool {
	if f.GameName != "" && md.GameName != f.GameName {
		return false
	}
	if f.IsGameover != nil && (md.Gameover != nil) != *f.IsGameover {
		return false
	}
	if f.UpdatedBefore > 0 && md.UpdatedAt >= f.UpdatedBefore {
		return false
	}
	if f.UpdatedAfter > 0 && md.UpdatedAt <= f.UpdatedAfter {
		return false
	}
	return true
}
