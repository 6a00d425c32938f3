// Package nakama adapts the engine to the Nakama game server runtime. Each
// authoritative Nakama match hosts one coordinator; the match loop is
// Nakama's per-match actor, which gives the coordinator its one-mutation-at-
// a-time guarantee for free.
package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"turnforge/internal/auth"
	"turnforge/internal/game"
	"turnforge/internal/master"
	"turnforge/internal/storage"
	"turnforge/internal/wire"
)

const tickRate = 5

// MatchState is the per-match runtime state threaded through Nakama's
// callbacks.
type MatchState struct {
	MatchID    string            `json:"match_id"`
	GameName   string            `json:"game_name"`
	NumPlayers int               `json:"num_players"`
	Seats      map[string]string `json:"seats"` // userID -> playerID
	Gameover   bool              `json:"gameover"`

	Master    *master.Master     `json:"-"`
	Transport *dispatchTransport `json:"-"`
}

// openSeats counts unclaimed player slots.
func (ms *MatchState) openSeats() int {
	return ms.NumPlayers - len(ms.Seats)
}

// playerFor returns the seat held by a Nakama user.
func (ms *MatchState) playerFor(userID string) (string, bool) {
	playerID, ok := ms.Seats[userID]
	return playerID, ok
}

// matchHandler implements runtime.Match for one game definition.
type matchHandler struct {
	def   *game.Definition
	store storage.Store
	auth  auth.Authenticator
}

// NewMatch returns the factory Nakama calls per match.
func NewMatch(def *game.Definition, store storage.Store, authn auth.Authenticator) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return &matchHandler{def: def, store: store, auth: authn}, nil
	}
}

// dispatchTransport bridges the coordinator's broadcasts onto Nakama's match
// dispatcher. The dispatcher is only valid during a callback, so it is
// rebound at the top of each one.
type dispatchTransport struct {
	mu         sync.Mutex
	dispatcher runtime.MatchDispatcher
	presences  map[string]runtime.Presence // playerID -> presence
	known      map[string]int64            // playerID -> delivered state ID
}

func newDispatchTransport() *dispatchTransport {
	return &dispatchTransport{
		presences: map[string]runtime.Presence{},
		known:     map[string]int64{},
	}
}

var _ master.TransportAPI = (*dispatchTransport)(nil)

func (t *dispatchTransport) bind(d runtime.MatchDispatcher) {
	t.mu.Lock()
	t.dispatcher = d
	t.mu.Unlock()
}

func (t *dispatchTransport) join(playerID string, p runtime.Presence) {
	t.mu.Lock()
	t.presences[playerID] = p
	delete(t.known, playerID)
	t.mu.Unlock()
}

func (t *dispatchTransport) leave(playerID string) {
	t.mu.Lock()
	delete(t.presences, playerID)
	delete(t.known, playerID)
	t.mu.Unlock()
}

// Send delivers one envelope to a single seat.
func (t *dispatchTransport) Send(matchID, playerID string, msg *wire.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.presences[playerID]
	if !ok || t.dispatcher == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if id, ok := msg.AuthStateID(); ok {
		t.known[playerID] = id
	}
	_ = t.dispatcher.BroadcastMessage(OpEnvelope, data, []runtime.Presence{p}, nil, true)
}

// SendAll builds and delivers one envelope per present seat.
func (t *dispatchTransport) SendAll(matchID string, build func(playerID string, knownStateID int64) *wire.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dispatcher == nil {
		return
	}
	for playerID, p := range t.presences {
		msg := build(playerID, t.known[playerID])
		if msg == nil {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if id, ok := msg.AuthStateID(); ok {
			t.known[playerID] = id
		}
		_ = t.dispatcher.BroadcastMessage(OpEnvelope, data, []runtime.Presence{p}, nil, true)
	}
}

// MatchInit builds the coordinator and the initial searchable label.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	matchID, _ := ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)

	numPlayers := mh.def.MinPlayers
	if v, ok := params["num_players"].(float64); ok && int(v) > 0 {
		numPlayers = int(v)
	}

	transport := newDispatchTransport()
	m, err := master.New(mh.def, mh.store, mh.auth, transport, master.Options{
		AutoCreate:        true,
		DefaultNumPlayers: numPlayers,
	})
	if err != nil {
		logger.Error("MatchInit: build coordinator: %v", err)
		return nil, 0, ""
	}

	state := &MatchState{
		MatchID:    matchID,
		GameName:   mh.def.Name,
		NumPlayers: numPlayers,
		Seats:      map[string]string{},
		Master:     m,
		Transport:  transport,
	}
	return state, tickRate, mh.label(state, logger)
}

// label serialises the searchable match label via protobuf's Struct, keeping
// the wire form stable regardless of Go map ordering quirks. Finished matches
// report zero open seats so find-match queries stop returning them.
func (mh *matchHandler) label(state *MatchState, logger runtime.Logger) string {
	open := state.openSeats()
	if state.Gameover {
		open = 0
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		LabelKeyGame:      state.GameName,
		LabelKeyOpenSeats: open,
		LabelKeyGameover:  state.Gameover,
	})
	if err != nil {
		logger.Error("label: %v", err)
		return "{}"
	}
	data, err := (protojson.MarshalOptions{EmitUnpopulated: true}).Marshal(s)
	if err != nil {
		logger.Error("label: %v", err)
		return "{}"
	}
	return string(data)
}

func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	ms, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}
	if _, rejoining := ms.playerFor(presence.GetUserId()); rejoining {
		return ms, true, ""
	}
	if ms.openSeats() <= 0 {
		return ms, false, "match full"
	}
	return ms, true, ""
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}
	ms.Transport.bind(dispatcher)

	for _, p := range presences {
		playerID, rejoining := ms.playerFor(p.GetUserId())
		if !rejoining {
			playerID = mh.assignSeat(ms, p.GetUserId())
			if playerID == "" {
				logger.Warn("MatchJoin: user %s joined a full match", p.GetUserId())
				continue
			}
		}
		ms.Transport.join(playerID, p)

		// Sync first: it auto-creates the match record presence is written to.
		if err := ms.Master.OnSync(ctx, ms.MatchID, playerID, "", ms.NumPlayers); err != nil {
			logger.Error("MatchJoin: sync for %s: %v", playerID, err)
		}
		if err := ms.Master.OnConnectionChange(ctx, ms.MatchID, playerID, "", true); err != nil {
			logger.Debug("MatchJoin: presence update for %s: %v", playerID, err)
		}
	}

	mh.updateLabel(ms, dispatcher, logger)
	return ms
}

func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}
	ms.Transport.bind(dispatcher)

	for _, p := range presences {
		playerID, held := ms.playerFor(p.GetUserId())
		if !held {
			continue
		}
		ms.Transport.leave(playerID)
		if err := ms.Master.OnConnectionChange(ctx, ms.MatchID, playerID, "", false); err != nil {
			logger.Debug("MatchLeave: presence update for %s: %v", playerID, err)
		}
	}

	// Seats survive a disconnect; the user may rejoin the same seat. The
	// match ends only when everyone has left.
	connected := 0
	ms.Transport.mu.Lock()
	connected = len(ms.Transport.presences)
	ms.Transport.mu.Unlock()
	if connected == 0 {
		logger.Info("MatchLeave: terminating empty match %s", ms.MatchID)
		return nil
	}

	mh.updateLabel(ms, dispatcher, logger)
	return ms
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		return state
	}
	ms.Transport.bind(dispatcher)

	handled := false
	for _, msg := range messages {
		if msg.GetOpCode() != OpRequest {
			logger.Warn("MatchLoop: unknown opcode %d", msg.GetOpCode())
			continue
		}
		playerID, held := ms.playerFor(msg.GetUserId())
		if !held {
			continue
		}
		var env wire.Envelope
		if err := json.Unmarshal(msg.GetData(), &env); err != nil {
			logger.Warn("MatchLoop: unreadable envelope from %s: %v", playerID, err)
			continue
		}
		mh.dispatch(ctx, ms, playerID, &env, logger)
		handled = true
	}
	if handled && !ms.Gameover {
		mh.refreshGameover(ctx, ms, dispatcher, logger)
	}
	return ms
}

// refreshGameover re-labels the match once the coordinator records a result.
func (mh *matchHandler) refreshGameover(ctx context.Context, ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	res, err := mh.store.Fetch(ctx, ms.MatchID, storage.FetchOpts{Metadata: true})
	if err != nil || res.Metadata.Gameover == nil {
		return
	}
	ms.Gameover = true
	mh.updateLabel(ms, dispatcher, logger)
}

// dispatch routes one client envelope into the coordinator. The envelope's
// match ID is ignored; Nakama already routed the message to this match, and
// the sender's seat comes from the session, not the payload.
func (mh *matchHandler) dispatch(ctx context.Context, ms *MatchState, playerID string, env *wire.Envelope, logger runtime.Logger) {
	switch env.Type {
	case wire.MsgSync:
		if err := ms.Master.OnSync(ctx, ms.MatchID, playerID, "", ms.NumPlayers); err != nil {
			logger.Debug("sync refused for %s: %v", playerID, err)
		}
	case wire.MsgUpdate:
		if env.Update == nil {
			return
		}
		a := env.Update.Action
		a.Payload.PlayerID = playerID
		if err := ms.Master.OnUpdate(ctx, ms.MatchID, a, env.Update.StateID, playerID); err != nil {
			logger.Debug("update refused for %s: %v", playerID, err)
		}
	case wire.MsgChat:
		if env.Chat == nil {
			return
		}
		msg := env.Chat.Message
		msg.Sender = playerID
		if err := ms.Master.OnChatMessage(ctx, ms.MatchID, msg, ""); err != nil {
			logger.Debug("chat refused for %s: %v", playerID, err)
		}
	default:
		logger.Warn("dispatch: unknown envelope type %q from %s", env.Type, playerID)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	logger.Info("MatchTerminate: shutting down in %d seconds", graceSeconds)
	return state
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}

// assignSeat gives the user the lowest free seat, returning its player ID.
func (mh *matchHandler) assignSeat(ms *MatchState, userID string) string {
	taken := map[string]bool{}
	for _, playerID := range ms.Seats {
		taken[playerID] = true
	}
	for i := 0; i < ms.NumPlayers; i++ {
		playerID := strconv.Itoa(i)
		if !taken[playerID] {
			ms.Seats[userID] = playerID
			return playerID
		}
	}
	return ""
}

func (mh *matchHandler) updateLabel(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	if err := dispatcher.MatchLabelUpdate(mh.label(ms, logger)); err != nil {
		logger.Error("updateLabel: %v", err)
	}
}
