package lobby

import (
	"context"
	"errors"
	"testing"

	"turnforge/internal/auth"
	"turnforge/internal/games/tictactoe"
	"turnforge/internal/reducer"
	"turnforge/internal/storage"
	"turnforge/internal/storage/memory"
)

func newLobby(t *testing.T) (*Lobby, *memory.Store) {
	t.Helper()
	r, err := reducer.New(tictactoe.Definition())
	if err != nil {
		t.Fatalf("reducer.New: %v", err)
	}
	store := memory.New()
	l := New(map[string]*reducer.Reducer{"tic-tac-toe": r}, store, auth.Plain{})
	l.now = func() int64 { return 1000 }
	l.seed = func() int64 { return 42 }
	return l, store
}

func TestCreateMatch(t *testing.T) {
	l, store := newLobby(t)
	ctx := context.Background()

	matchID, err := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	res, err := store.Fetch(ctx, matchID, storage.FetchOpts{State: true, Metadata: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.State.Ctx.NumPlayers != 2 {
		t.Errorf("NumPlayers = %d, want game minimum", res.State.Ctx.NumPlayers)
	}
	if res.State.Ctx.Seed != 42 {
		t.Errorf("Seed = %d", res.State.Ctx.Seed)
	}
	if len(res.Metadata.Players) != 2 || res.Metadata.CreatedAt != 1000 {
		t.Errorf("metadata = %+v", res.Metadata)
	}

	if _, err := l.CreateMatch(ctx, "chess", CreateRequest{}); !errors.Is(err, ErrUnknownGame) {
		t.Errorf("unknown game = %v", err)
	}
}

func TestCreateMatchPinnedSeed(t *testing.T) {
	l, store := newLobby(t)
	ctx := context.Background()
	seed := int64(7)

	matchID, err := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{Seed: &seed})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	res, _ := store.Fetch(ctx, matchID, storage.FetchOpts{State: true})
	if res.State.Ctx.Seed != 7 {
		t.Errorf("Seed = %d, want pinned 7", res.State.Ctx.Seed)
	}
}

func TestJoinAndSeatTaken(t *testing.T) {
	l, store := newLobby(t)
	ctx := context.Background()
	matchID, _ := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{})

	creds, err := l.Join(ctx, matchID, 0, "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if creds == "" {
		t.Fatalf("empty credentials")
	}

	res, _ := store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	pm := res.Metadata.Players[0]
	if pm.Name != "alice" || pm.Credentials != creds {
		t.Fatalf("seat = %+v", pm)
	}

	if _, err := l.Join(ctx, matchID, 0, "bob"); !errors.Is(err, ErrSeatTaken) {
		t.Errorf("taken seat = %v", err)
	}
	if _, err := l.Join(ctx, matchID, 5, "bob"); !errors.Is(err, ErrInvalidSeat) {
		t.Errorf("invalid seat = %v", err)
	}
	if _, err := l.Join(ctx, "missing", 0, "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing match = %v", err)
	}
}

func TestLeaveWipesEmptyMatch(t *testing.T) {
	l, store := newLobby(t)
	ctx := context.Background()
	matchID, _ := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{})
	aliceCreds, _ := l.Join(ctx, matchID, 0, "alice")
	bobCreds, _ := l.Join(ctx, matchID, 1, "bob")

	if err := l.Leave(ctx, matchID, 0, "forged"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("forged credentials = %v", err)
	}
	if err := l.Leave(ctx, matchID, 0, aliceCreds); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// One seat still claimed, the match survives.
	res, err := store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	if err != nil {
		t.Fatalf("match wiped too early: %v", err)
	}
	if res.Metadata.Players[0].Credentials != "" {
		t.Fatalf("seat not released")
	}

	if err := l.Leave(ctx, matchID, 1, bobCreds); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if _, err := store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty match should be wiped, got %v", err)
	}
}

func TestListMatchesSkipsUnlisted(t *testing.T) {
	l, _ := newLobby(t)
	ctx := context.Background()

	public, _ := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{})
	if _, err := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{Unlisted: true}); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	matches, err := l.ListMatches(ctx, "tic-tac-toe", storage.ListFilter{})
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 1 || matches[0].MatchID != public {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].GameName != "tic-tac-toe" || len(matches[0].Players) != 2 {
		t.Fatalf("entry = %+v", matches[0])
	}
}

func TestGetMatchIncludesUnlisted(t *testing.T) {
	l, _ := newLobby(t)
	ctx := context.Background()
	matchID, _ := l.CreateMatch(ctx, "tic-tac-toe", CreateRequest{Unlisted: true})

	info, err := l.GetMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if info.MatchID != matchID {
		t.Fatalf("info = %+v", info)
	}
}

func TestGameNames(t *testing.T) {
	l, _ := newLobby(t)
	names := l.GameNames()
	if len(names) != 1 || names[0] != "tic-tac-toe" {
		t.Fatalf("names = %v", names)
	}
}
