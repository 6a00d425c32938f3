// Package master implements the authoritative session coordinator: the only
// component allowed to advance a match. It validates requests, runs the
// reducer, persists the result and broadcasts player-filtered views, sending
// incremental patches to clients that are known to be current and full states
// to everyone else.
package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/wI2L/jsondiff"

	"turnforge/internal/auth"
	"turnforge/internal/game"
	"turnforge/internal/reducer"
	"turnforge/internal/state"
	"turnforge/internal/storage"
	"turnforge/internal/wire"
)

// TransportAPI is the outbound half of a transport. Send delivers to one
// connected client; SendAll delivers to every client connected to the match,
// letting the coordinator tailor each message to the receiver's known state
// version. Returning nil from the builder skips that client.
type TransportAPI interface {
	Send(matchID, playerID string, msg *wire.Envelope)
	SendAll(matchID string, build func(playerID string, knownStateID int64) *wire.Envelope)
}

// Options tune coordinator behaviour.
type Options struct {
	// AutoCreate lets a sync request create the match it names.
	AutoCreate bool

	// DefaultNumPlayers seats auto-created matches when the sync request
	// does not say. Zero means the game's minimum.
	DefaultNumPlayers int

	// ChatHistory bounds the retained chat backlog per match.
	ChatHistory int

	// Seed produces the deterministic seed for auto-created matches.
	Seed func() int64

	// Now stamps metadata timestamps, unix milliseconds.
	Now func() int64

	Logger *slog.Logger
}

const defaultChatHistory = 100

// Master coordinates all matches of one game type.
type Master struct {
	gameName  string
	reducer   *reducer.Reducer
	store     storage.Store
	auth      auth.Authenticator
	transport TransportAPI
	opts      Options
	log       *slog.Logger

	locks sync.Map // matchID -> *sync.Mutex

	chatMu sync.Mutex
	chat   map[string][]wire.ChatMessage
}

// New builds a coordinator for the given game definition.
func New(def *game.Definition, store storage.Store, authn auth.Authenticator, transport TransportAPI, opts Options) (*Master, error) {
	r, err := reducer.New(def)
	if err != nil {
		return nil, err
	}
	if opts.ChatHistory <= 0 {
		opts.ChatHistory = defaultChatHistory
	}
	if opts.Seed == nil {
		opts.Seed = func() int64 { return time.Now().UnixNano() }
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Master{
		gameName:  def.Name,
		reducer:   r,
		store:     store,
		auth:      authn,
		transport: transport,
		opts:      opts,
		log:       log.With("game", def.Name),
		chat:      make(map[string][]wire.ChatMessage),
	}, nil
}

// GameName returns the name of the game this coordinator serves.
func (m *Master) GameName() string { return m.gameName }

// Reducer exposes the underlying reducer, for local transports and agents.
func (m *Master) Reducer() *reducer.Reducer { return m.reducer }

// lock serialises mutations per match. At most one request is in flight for
// any match at a time; requests for different matches proceed concurrently.
func (m *Master) lock(matchID string) func() {
	v, _ := m.locks.LoadOrStore(matchID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// OnSync answers a client's request for the full current state, creating the
// match first when auto-creation is enabled.
func (m *Master) OnSync(ctx context.Context, matchID, playerID, credentials string, numPlayers int) error {
	unlock := m.lock(matchID)
	defer unlock()

	res, err := m.store.Fetch(ctx, matchID, storage.FetchOpts{State: true, Metadata: true, Log: true})
	if errors.Is(err, storage.ErrNotFound) && m.opts.AutoCreate {
		if res, err = m.createMatch(ctx, matchID, numPlayers); err != nil {
			m.sendError(matchID, playerID, state.CodeUnknownMatch, err.Error())
			return err
		}
	} else if err != nil {
		m.sendError(matchID, playerID, state.CodeUnknownMatch, "match not found")
		return fmt.Errorf("sync %s: %w", matchID, err)
	}

	if rej := m.authorize(res.Metadata, playerID, credentials); rej != nil {
		m.sendError(matchID, playerID, rej.Code, rej.Reason)
		return rej
	}

	view, err := m.filterView(res.State, playerID)
	if err != nil {
		return fmt.Errorf("sync %s: %w", matchID, err)
	}
	m.transport.Send(matchID, playerID, &wire.Envelope{
		Type:     wire.MsgSyncResponse,
		MatchID:  matchID,
		GameName: m.gameName,
		SyncResponse: &wire.SyncResponse{
			State:            view,
			Log:              m.redactLog(res.Log, playerID),
			FilteredMetadata: res.Metadata.Filtered(),
		},
	})

	m.chatMu.Lock()
	backlog := append([]wire.ChatMessage(nil), m.chat[matchID]...)
	m.chatMu.Unlock()
	for i := range backlog {
		m.transport.Send(matchID, playerID, &wire.Envelope{
			Type:     wire.MsgChatPush,
			MatchID:  matchID,
			ChatPush: &backlog[i],
		})
	}
	return nil
}

// OnUpdate validates and applies one action, then broadcasts the result.
// Rejections are reported only to the submitting client; the match state is
// untouched.
func (m *Master) OnUpdate(ctx context.Context, matchID string, a state.Action, stateID int64, playerID string) error {
	unlock := m.lock(matchID)
	defer unlock()

	res, err := m.store.Fetch(ctx, matchID, storage.FetchOpts{State: true, Metadata: true})
	if errors.Is(err, storage.ErrNotFound) {
		m.sendError(matchID, playerID, state.CodeUnknownMatch, "match not found")
		return state.Rejectf(state.CodeUnknownMatch, "match %q not found", matchID)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", matchID, err)
	}

	if rej := m.authorize(res.Metadata, playerID, a.Payload.Credentials); rej != nil {
		m.sendError(matchID, playerID, rej.Code, rej.Reason)
		return rej
	}
	if a.Payload.PlayerID != playerID {
		rej := state.Rejectf(state.CodeWrongPlayer, "action signed by %q, submitted by %q", a.Payload.PlayerID, playerID)
		m.sendError(matchID, playerID, rej.Code, rej.Reason)
		return rej
	}
	if stateID != res.State.StateID {
		rej := state.Rejectf(state.CodeStaleStateID, "stateID %d does not match current %d", stateID, res.State.StateID)
		m.log.Debug("stale action dropped", "matchID", matchID, "playerID", playerID, "got", stateID, "want", res.State.StateID)
		m.sendError(matchID, playerID, rej.Code, rej.Reason)
		return rej
	}

	ns, err := m.apply(ctx, matchID, res.State, a)
	if err != nil {
		var rej *state.Rejection
		if errors.As(err, &rej) {
			m.log.Debug("action rejected", "matchID", matchID, "playerID", playerID, "type", a.Payload.Type, "code", rej.Code)
			m.sendError(matchID, playerID, rej.Code, rej.Reason)
			return rej
		}
		return fmt.Errorf("update %s: %w", matchID, err)
	}

	if err := m.store.SetState(ctx, matchID, ns, ns.Deltalog); err != nil {
		return fmt.Errorf("persist %s: %w", matchID, err)
	}

	md := res.Metadata
	md.UpdatedAt = m.opts.Now()
	md.Gameover = ns.Ctx.Gameover
	if err := m.store.SetMetadata(ctx, matchID, md); err != nil {
		return fmt.Errorf("persist metadata %s: %w", matchID, err)
	}

	m.broadcast(matchID, res.State, ns)

	// The match is terminal: nothing mutates it again until a reset recreates
	// interest, so its lock and chat backlog can go.
	if ns.Ctx.Gameover != nil {
		m.release(matchID)
	}
	return nil
}

// release drops the per-match resources the coordinator accumulates. A later
// request for the same match simply re-creates them.
func (m *Master) release(matchID string) {
	m.locks.Delete(matchID)
	m.chatMu.Lock()
	delete(m.chat, matchID)
	m.chatMu.Unlock()
}

// apply runs the reducer, substituting the persisted initial state on reset
// so matches created with setup data return to their true beginning.
func (m *Master) apply(ctx context.Context, matchID string, s *state.State, a state.Action) (*state.State, error) {
	if a.Type == state.ActionReset {
		res, err := m.store.Fetch(ctx, matchID, storage.FetchOpts{InitialState: true})
		if err != nil {
			return nil, fmt.Errorf("fetch initial state: %w", err)
		}
		ns := res.InitialState.Clone()
		ns.StateID = s.StateID + 1
		ns.Deltalog = []state.LogEntry{{
			Action:  a.StripCredentials(),
			StateID: ns.StateID,
			Turn:    s.Ctx.Turn,
			Phase:   s.Ctx.Phase,
		}}
		return ns, nil
	}
	return m.reducer.Apply(s, a)
}

// broadcast fans the accepted transition out, patching clients known to hold
// the previous version and fully refreshing the rest. Views and patches are
// computed lazily and cached per player since filtering can differ per seat.
func (m *Master) broadcast(matchID string, prev, next *state.State) {
	type perPlayer struct {
		patch *wire.Envelope
		full  *wire.Envelope
	}
	cache := make(map[string]*perPlayer)

	viewKey := func(playerID string) string {
		if m.reducer.Game().Def.PlayerView == nil {
			return "*"
		}
		return playerID
	}

	m.transport.SendAll(matchID, func(playerID string, knownStateID int64) *wire.Envelope {
		key := viewKey(playerID)
		pp := cache[key]
		if pp == nil {
			pp = &perPlayer{}
			cache[key] = pp
		}
		deltalog := m.redactLog(next.Deltalog, playerID)

		if knownStateID == prev.StateID {
			if pp.patch == nil {
				pp.patch = m.patchEnvelope(matchID, prev, next, playerID)
			}
			if pp.patch != nil {
				env := *pp.patch
				env.Patch = &wire.PatchPush{
					PrevStateID: pp.patch.Patch.PrevStateID,
					StateID:     pp.patch.Patch.StateID,
					Operations:  pp.patch.Patch.Operations,
					Deltalog:    deltalog,
				}
				return &env
			}
		}
		if pp.full == nil {
			view, err := m.filterView(next, playerID)
			if err != nil {
				m.log.Error("filter state for broadcast", "matchID", matchID, "playerID", playerID, "err", err)
				return nil
			}
			pp.full = &wire.Envelope{
				Type:       wire.MsgUpdatePush,
				MatchID:    matchID,
				GameName:   m.gameName,
				UpdatePush: &wire.UpdatePush{State: view},
			}
		}
		env := *pp.full
		env.UpdatePush = &wire.UpdatePush{State: pp.full.UpdatePush.State, Deltalog: deltalog}
		return &env
	})
}

// patchEnvelope diffs the player-filtered views of two consecutive states.
// Returns nil when the diff cannot be computed; the caller falls back to a
// full update.
func (m *Master) patchEnvelope(matchID string, prev, next *state.State, playerID string) *wire.Envelope {
	prevView, err := m.filterView(prev, playerID)
	if err != nil {
		m.log.Error("filter previous state", "matchID", matchID, "err", err)
		return nil
	}
	nextView, err := m.filterView(next, playerID)
	if err != nil {
		m.log.Error("filter next state", "matchID", matchID, "err", err)
		return nil
	}
	patch, err := jsondiff.Compare(prevView, nextView)
	if err != nil {
		m.log.Error("diff states", "matchID", matchID, "err", err)
		return nil
	}
	ops, err := json.Marshal(patch)
	if err != nil {
		m.log.Error("marshal patch", "matchID", matchID, "err", err)
		return nil
	}
	return &wire.Envelope{
		Type:     wire.MsgPatch,
		MatchID:  matchID,
		GameName: m.gameName,
		Patch: &wire.PatchPush{
			PrevStateID: prev.StateID,
			StateID:     next.StateID,
			Operations:  ops,
		},
	}
}

// OnChatMessage verifies the sender and relays the message to the whole
// match, keeping a bounded backlog for late joiners.
func (m *Master) OnChatMessage(ctx context.Context, matchID string, msg wire.ChatMessage, credentials string) error {
	unlock := m.lock(matchID)
	defer unlock()

	res, err := m.store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	if errors.Is(err, storage.ErrNotFound) {
		return state.Rejectf(state.CodeUnknownMatch, "match %q not found", matchID)
	}
	if err != nil {
		return fmt.Errorf("chat %s: %w", matchID, err)
	}
	if rej := m.authorize(res.Metadata, msg.Sender, credentials); rej != nil {
		m.sendError(matchID, msg.Sender, rej.Code, rej.Reason)
		return rej
	}

	m.chatMu.Lock()
	backlog := append(m.chat[matchID], msg)
	if len(backlog) > m.opts.ChatHistory {
		backlog = backlog[len(backlog)-m.opts.ChatHistory:]
	}
	m.chat[matchID] = backlog
	m.chatMu.Unlock()

	m.transport.SendAll(matchID, func(playerID string, knownStateID int64) *wire.Envelope {
		return &wire.Envelope{Type: wire.MsgChatPush, MatchID: matchID, ChatPush: &msg}
	})
	return nil
}

// OnConnectionChange records a player's presence and broadcasts the updated
// public metadata.
func (m *Master) OnConnectionChange(ctx context.Context, matchID, playerID, credentials string, connected bool) error {
	unlock := m.lock(matchID)
	defer unlock()

	res, err := m.store.Fetch(ctx, matchID, storage.FetchOpts{Metadata: true})
	if errors.Is(err, storage.ErrNotFound) {
		return state.Rejectf(state.CodeUnknownMatch, "match %q not found", matchID)
	}
	if err != nil {
		return fmt.Errorf("connection change %s: %w", matchID, err)
	}
	md := res.Metadata
	if rej := m.authorize(md, playerID, credentials); rej != nil {
		return rej
	}
	seat, ok := seatFor(md, playerID)
	if !ok {
		return state.Rejectf(state.CodeUnauthorized, "player %q has no seat in match %q", playerID, matchID)
	}
	seat.IsConnected = connected
	md.Players[seat.ID] = *seat
	md.UpdatedAt = m.opts.Now()
	if err := m.store.SetMetadata(ctx, matchID, md); err != nil {
		return fmt.Errorf("persist metadata %s: %w", matchID, err)
	}

	data := &wire.MatchData{Players: md.Filtered(), Gameover: md.Gameover}
	m.transport.SendAll(matchID, func(pid string, knownStateID int64) *wire.Envelope {
		return &wire.Envelope{Type: wire.MsgMatchData, MatchID: matchID, MatchData: data}
	})
	return nil
}

func (m *Master) createMatch(ctx context.Context, matchID string, numPlayers int) (storage.FetchResult, error) {
	def := m.reducer.Game().Def
	if numPlayers == 0 {
		numPlayers = m.opts.DefaultNumPlayers
	}
	if numPlayers == 0 {
		numPlayers = def.MinPlayers
	}
	initial, err := m.reducer.InitialState(numPlayers, m.opts.Seed(), nil)
	if err != nil {
		return storage.FetchResult{}, err
	}
	now := m.opts.Now()
	md := &state.Metadata{
		GameName:  m.gameName,
		Players:   make(map[int]state.PlayerMetadata, numPlayers),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 0; i < numPlayers; i++ {
		md.Players[i] = state.PlayerMetadata{ID: i}
	}
	if err := m.store.CreateMatch(ctx, matchID, initial, md); err != nil {
		return storage.FetchResult{}, err
	}
	m.log.Info("match auto-created", "matchID", matchID, "numPlayers", numPlayers)
	return storage.FetchResult{State: initial, Metadata: md}, nil
}

// authorize gates a request on the seat's credentials. Seats with no
// credentials set are open, as are spectator requests with an empty player ID
// on reads.
func (m *Master) authorize(md *state.Metadata, playerID, credentials string) *state.Rejection {
	seat, ok := seatFor(md, playerID)
	if !ok {
		return nil
	}
	if seat.Credentials == "" {
		return nil
	}
	if m.auth == nil || !m.auth.Authenticate(credentials, seat) {
		return state.Rejectf(state.CodeUnauthorized, "invalid credentials for player %q", playerID)
	}
	return nil
}

// filterView produces the state as the given player is allowed to see it.
func (m *Master) filterView(s *state.State, playerID string) (*state.State, error) {
	view := s.ClientView()
	g, err := m.reducer.Game().FilterG(view.G, &view.Ctx, playerID)
	if err != nil {
		return nil, err
	}
	view.G = g
	return view, nil
}

// redactLog hides the arguments of redacted moves from everyone but their
// author.
func (m *Master) redactLog(entries []state.LogEntry, playerID string) []state.LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]state.LogEntry, len(entries))
	for i, e := range entries {
		if e.Redact && e.Action.Payload.PlayerID != playerID {
			e.Action.Payload.Args = nil
		}
		out[i] = e
	}
	return out
}

func (m *Master) sendError(matchID, playerID string, code state.RejectionCode, reason string) {
	if m.transport == nil {
		return
	}
	m.transport.Send(matchID, playerID, &wire.Envelope{
		Type:    wire.MsgError,
		MatchID: matchID,
		Error:   &wire.Error{Code: string(code), Reason: reason},
	})
}

func seatFor(md *state.Metadata, playerID string) (*state.PlayerMetadata, bool) {
	idx, err := strconv.Atoi(playerID)
	if err != nil {
		return nil, false
	}
	p, ok := md.Players[idx]
	if !ok {
		return nil, false
	}
	return &p, true
}
