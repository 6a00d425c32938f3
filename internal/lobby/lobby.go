// Package lobby manages match lifecycle outside of play: creating matches,
// claiming and releasing seats, and listing what is joinable. It shares the
// coordinator's storage but never touches a running match's state.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"turnforge/internal/auth"
	"turnforge/internal/reducer"
	"turnforge/internal/state"
	"turnforge/internal/storage"
)

// Errors surfaced to HTTP or CLI layers.
var (
	ErrUnknownGame  = errors.New("unknown game")
	ErrSeatTaken    = errors.New("seat already taken")
	ErrInvalidSeat  = errors.New("invalid seat")
	ErrUnauthorized = errors.New("invalid credentials")
)

// Lobby serves match lifecycle requests for a set of games.
type Lobby struct {
	games map[string]*reducer.Reducer
	store storage.Store
	auth  auth.Authenticator
	now   func() int64
	seed  func() int64
}

// New builds a lobby over the given reducers, keyed by game name.
func New(games map[string]*reducer.Reducer, store storage.Store, authn auth.Authenticator) *Lobby {
	return &Lobby{
		games: games,
		store: store,
		auth:  authn,
		now:   func() int64 { return time.Now().UnixMilli() },
		seed:  func() int64 { return time.Now().UnixNano() },
	}
}

// CreateRequest parameterises match creation.
type CreateRequest struct {
	NumPlayers int
	SetupData  json.RawMessage
	Unlisted   bool

	// Seed pins the match's deterministic seed; nil draws a fresh one.
	Seed *int64
}

// CreateMatch builds the initial state for a new match and persists it under
// a fresh ID.
func (l *Lobby) CreateMatch(ctx context.Context, gameName string, req CreateRequest) (string, error) {
	r, ok := l.games[gameName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownGame, gameName)
	}
	numPlayers := req.NumPlayers
	if numPlayers == 0 {
		numPlayers = r.Game().Def.MinPlayers
	}
	seed := l.seed()
	if req.Seed != nil {
		seed = *req.Seed
	}
	initial, err := r.InitialState(numPlayers, seed, req.SetupData)
	if err != nil {
		return "", err
	}

	matchID := uuid.NewString()
	now := l.now()
	md := &state.Metadata{
		GameName:  gameName,
		Players:   make(map[int]state.PlayerMetadata, numPlayers),
		SetupData: req.SetupData,
		Unlisted:  req.Unlisted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 0; i < numPlayers; i++ {
		md.Players[i] = state.PlayerMetadata{ID: i}
	}
	if err := l.store.CreateMatch(ctx, matchID, initial, md); err != nil {
		return "", fmt.Errorf("create match: %w", err)
	}
	return matchID, nil
}

// Join claims a seat and returns the credentials the player must present on
// every subsequent request.
func (l *Lobby) Join(ctx context.Context, matchID string, seat int, name string) (string, error) {
	res, err := l.store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	if err != nil {
		return "", err
	}
	md := res.Metadata
	pm, ok := md.Players[seat]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidSeat, seat)
	}
	if pm.Credentials != "" {
		return "", fmt.Errorf("%w: %d", ErrSeatTaken, seat)
	}
	creds, err := l.auth.GenerateCredentials(matchID, fmt.Sprint(seat))
	if err != nil {
		return "", err
	}
	pm.Name = name
	pm.Credentials = creds
	md.Players[seat] = pm
	md.UpdatedAt = l.now()
	if err := l.store.SetMetadata(ctx, matchID, md); err != nil {
		return "", err
	}
	return creds, nil
}

// Leave releases a seat. When the last claimed seat is released the match is
// wiped.
func (l *Lobby) Leave(ctx context.Context, matchID string, seat int, credentials string) error {
	res, err := l.store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	if err != nil {
		return err
	}
	md := res.Metadata
	pm, ok := md.Players[seat]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSeat, seat)
	}
	if !l.auth.Authenticate(credentials, &pm) {
		return ErrUnauthorized
	}
	pm.Name = ""
	pm.Credentials = ""
	pm.IsConnected = false
	md.Players[seat] = pm

	if claimedSeats(md) == 0 {
		return l.store.Wipe(ctx, matchID)
	}
	md.UpdatedAt = l.now()
	return l.store.SetMetadata(ctx, matchID, md)
}

// MatchInfo is the public listing entry for one match.
type MatchInfo struct {
	MatchID   string                 `json:"matchID"`
	GameName  string                 `json:"gameName"`
	Players   []state.FilteredPlayer `json:"players"`
	Gameover  json.RawMessage        `json:"gameover,omitempty"`
	CreatedAt int64                  `json:"createdAt"`
	UpdatedAt int64                  `json:"updatedAt"`
}

// ListMatches returns the public matches of one game, in the store's ID
// order. Unlisted matches are skipped.
func (l *Lobby) ListMatches(ctx context.Context, gameName string, filter storage.ListFilter) ([]MatchInfo, error) {
	filter.GameName = gameName
	ids, err := l.store.ListMatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]MatchInfo, 0, len(ids))
	for _, id := range ids {
		res, err := l.store.Fetch(ctx, id, storage.FetchOpts{Metadata: true})
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.Metadata.Unlisted {
			continue
		}
		out = append(out, matchInfo(id, res.Metadata))
	}
	return out, nil
}

// GetMatch returns the public entry for one match, listed or not.
func (l *Lobby) GetMatch(ctx context.Context, matchID string) (MatchInfo, error) {
	res, err := l.store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	if err != nil {
		return MatchInfo{}, err
	}
	return matchInfo(matchID, res.Metadata), nil
}

// GameNames returns the games this lobby can create, for listings.
func (l *Lobby) GameNames() []string {
	out := make([]string, 0, len(l.games))
	for name := range l.games {
		out = append(out, name)
	}
	return out
}

func matchInfo(matchID string, md *state.Metadata) MatchInfo {
	return MatchInfo{
		MatchID:   matchID,
		GameName:  md.GameName,
		Players:   md.Filtered(),
		Gameover:  md.Gameover,
		CreatedAt: md.CreatedAt,
		UpdatedAt: md.UpdatedAt,
	}
}

func claimedSeats(md *state.Metadata) int {
	n := 0
	for _, p := range md.Players {
		if p.Credentials != "" {
			n++
		}
	}
	return n
}
