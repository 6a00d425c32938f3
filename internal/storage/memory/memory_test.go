package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"turnforge/internal/state"
	"turnforge/internal/storage"
)

func seedMatch(t *testing.T, s *Store, matchID, gameName string) (*state.State, *state.Metadata) {
	t.Helper()
	st := &state.State{
		G:   json.RawMessage(`{"n":0}`),
		Ctx: state.Ctx{NumPlayers: 2, PlayOrder: []string{"0", "1"}, CurrentPlayer: "0", Turn: 1},
	}
	md := &state.Metadata{
		GameName: gameName,
		Players:  map[int]state.PlayerMetadata{0: {ID: 0}, 1: {ID: 1}},
	}
	if err := s.CreateMatch(context.Background(), matchID, st, md); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	return st, md
}

func TestFetchNotFound(t *testing.T) {
	s := New()
	_, err := s.Fetch(context.Background(), "missing", storage.FetchOpts{State: true})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Fetch missing = %v, want ErrNotFound", err)
	}
	if err := s.SetState(context.Background(), "missing", &state.State{}, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SetState missing = %v", err)
	}
	if err := s.SetMetadata(context.Background(), "missing", &state.Metadata{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SetMetadata missing = %v", err)
	}
}

func TestCreateAndFetch(t *testing.T) {
	s := New()
	st, md := seedMatch(t, s, "m1", "pot")

	res, err := s.Fetch(context.Background(), "m1", storage.FetchOpts{State: true, Metadata: true, InitialState: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(res.State.G) != string(st.G) || res.Metadata.GameName != md.GameName {
		t.Fatalf("fetched record differs: %+v", res)
	}
	if res.InitialState == nil || string(res.InitialState.G) != string(st.G) {
		t.Fatalf("initial state not retained")
	}
	if res.Log != nil {
		t.Fatalf("unrequested log returned")
	}

	// Mutating the fetched copy must not leak into the store.
	res.State.StateID = 99
	res.Metadata.GameName = "hacked"
	again, _ := s.Fetch(context.Background(), "m1", storage.FetchOpts{State: true, Metadata: true})
	if again.State.StateID != 0 || again.Metadata.GameName != "pot" {
		t.Fatalf("store shares memory with callers")
	}
}

func TestSetStateAppendsLog(t *testing.T) {
	s := New()
	seedMatch(t, s, "m1", "pot")
	ctx := context.Background()

	next := &state.State{G: json.RawMessage(`{"n":1}`), StateID: 1}
	if err := s.SetState(ctx, "m1", next, []state.LogEntry{{StateID: 1}}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState(ctx, "m1", &state.State{StateID: 2}, []state.LogEntry{{StateID: 2}}); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	res, err := s.Fetch(ctx, "m1", storage.FetchOpts{State: true, Log: true, InitialState: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.State.StateID != 2 {
		t.Fatalf("StateID = %d, want 2", res.State.StateID)
	}
	if len(res.Log) != 2 || res.Log[0].StateID != 1 || res.Log[1].StateID != 2 {
		t.Fatalf("log = %+v", res.Log)
	}
	if res.InitialState.StateID != 0 {
		t.Fatalf("initial state overwritten by SetState")
	}
}

func TestWipe(t *testing.T) {
	s := New()
	seedMatch(t, s, "m1", "pot")
	if err := s.Wipe(context.Background(), "m1"); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if _, err := s.Fetch(context.Background(), "m1", storage.FetchOpts{State: true}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("wiped match still found: %v", err)
	}
}

func TestListMatchesFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedMatch(t, s, "a", "pot")
	seedMatch(t, s, "b", "pot")
	seedMatch(t, s, "c", "chess")

	md, _ := s.Fetch(ctx, "b", storage.FetchOpts{Metadata: true})
	md.Metadata.Gameover = json.RawMessage(`{"winner":"0"}`)
	if err := s.SetMetadata(ctx, "b", md.Metadata); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}

	all, err := s.ListMatches(ctx, storage.ListFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %v, %v", all, err)
	}
	if all[0] != "a" || all[1] != "b" || all[2] != "c" {
		t.Fatalf("listing not sorted: %v", all)
	}

	pots, _ := s.ListMatches(ctx, storage.ListFilter{GameName: "pot"})
	if len(pots) != 2 {
		t.Fatalf("pot matches = %v", pots)
	}

	over := true
	finished, _ := s.ListMatches(ctx, storage.ListFilter{IsGameover: &over})
	if len(finished) != 1 || finished[0] != "b" {
		t.Fatalf("finished = %v", finished)
	}
	running := false
	open, _ := s.ListMatches(ctx, storage.ListFilter{IsGameover: &running})
	if len(open) != 2 {
		t.Fatalf("open = %v", open)
	}
}

func TestContextCancellation(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.CreateMatch(ctx, "m1", &state.State{}, &state.Metadata{}); err == nil {
		t.Fatalf("cancelled context should fail")
	}
}
