// Package client implements the match client: it mirrors the authoritative
// state held by the coordinator, applies moves optimistically for immediate
// feedback and reconciles incremental patches, falling back to a full resync
// whenever the two sides disagree.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"turnforge/internal/game"
	"turnforge/internal/reducer"
	"turnforge/internal/state"
	"turnforge/internal/wire"
)

// Transport carries envelopes between a client and a coordinator. Incoming
// traffic is delivered by calling Client.Receive; implementations must not
// hold locks across that call.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SendAction(a state.Action, stateID int64) error
	SendChatMessage(msg wire.ChatMessage) error
	RequestSync() error
	UpdateMatchID(matchID string)
	UpdatePlayerID(playerID string)
	UpdateCredentials(credentials string)
}

// Options configure a client.
type Options struct {
	MatchID     string
	PlayerID    string
	Credentials string

	// NumPlayers is sent with the initial sync for auto-created matches.
	NumPlayers int
}

// Client is the stateful, per-player match handle. Safe for concurrent use.
type Client struct {
	r    *reducer.Reducer
	opts Options

	mu          sync.Mutex
	transport   Transport
	matchID     string
	playerID    string
	credentials string

	// authoritative is the last server-confirmed state; patches are always
	// applied against it. optimistic, when non-nil, is the locally
	// predicted successor shown to the UI until the server confirms or
	// denies it.
	authoritative *state.State
	optimistic    *state.State

	log     []state.LogEntry
	players []state.FilteredPlayer
	chat    []wire.ChatMessage
	lastErr *wire.Error

	subs    map[int]func()
	nextSub int
}

// New builds a client for the given game definition.
func New(def *game.Definition, opts Options) (*Client, error) {
	r, err := reducer.New(def)
	if err != nil {
		return nil, err
	}
	return &Client{
		r:        r,
		opts:     opts,
		matchID:  opts.MatchID,
		playerID: opts.PlayerID,

		credentials: opts.Credentials,
		subs:        make(map[int]func()),
	}, nil
}

// Connect attaches a transport and opens it. The transport delivers inbound
// envelopes via Receive.
func (c *Client) Connect(ctx context.Context, t Transport) error {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	t.UpdateMatchID(c.matchID)
	t.UpdatePlayerID(c.playerID)
	t.UpdateCredentials(c.credentials)
	return t.Connect(ctx)
}

// Disconnect closes the transport.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Disconnect()
}

// Game exposes the processed definition, for UIs and agents.
func (c *Client) Game() *game.Processed { return c.r.Game() }

// PlayerID returns the seat this client plays.
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// MatchID returns the match this client follows.
func (c *Client) MatchID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

// State returns the state to display: the optimistic prediction when one is
// outstanding, the authoritative state otherwise. Nil before the first sync.
func (c *Client) State() *state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.optimistic != nil {
		return c.optimistic
	}
	return c.authoritative
}

// Log returns the accumulated match log.
func (c *Client) Log() []state.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]state.LogEntry(nil), c.log...)
}

// Players returns the public seat metadata from the last sync or matchData
// broadcast.
func (c *Client) Players() []state.FilteredPlayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]state.FilteredPlayer(nil), c.players...)
}

// Chat returns the chat messages seen so far.
func (c *Client) Chat() []wire.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.ChatMessage(nil), c.chat...)
}

// LastError returns the most recent error envelope from the coordinator, or
// nil.
func (c *Client) LastError() *wire.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe registers a callback invoked after every state change. The
// returned function unsubscribes.
func (c *Client) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Move submits a move, showing its predicted effect immediately.
func (c *Client) Move(name string, args ...any) error {
	return c.dispatch(state.MakeMove(name, c.PlayerID(), args...))
}

// Event submits a turn-machine event such as endTurn.
func (c *Client) Event(name string, args ...any) error {
	return c.dispatch(state.GameEvent(name, c.PlayerID(), args...))
}

// Undo asks the server to revert this client's last move.
func (c *Client) Undo() error { return c.dispatch(state.Undo(c.PlayerID())) }

// Redo asks the server to re-apply this client's last undone move.
func (c *Client) Redo() error { return c.dispatch(state.Redo(c.PlayerID())) }

// Reset asks the server to restart the match from its initial state.
func (c *Client) Reset() error { return c.dispatch(state.Reset(c.PlayerID())) }

// SendChat sends an opaque chat payload to the match.
func (c *Client) SendChat(payload json.RawMessage) error {
	c.mu.Lock()
	t := c.transport
	sender := c.playerID
	c.mu.Unlock()
	if t == nil {
		return fmt.Errorf("client is not connected")
	}
	return t.SendChatMessage(wire.ChatMessage{
		ID:      uuid.NewString(),
		Sender:  sender,
		Payload: payload,
	})
}

// dispatch predicts the action's effect against the authoritative state, then
// sends it stamped with the authoritative state ID. The lock is released
// before the send so transports that deliver synchronously may re-enter
// Receive.
func (c *Client) dispatch(a state.Action) error {
	c.mu.Lock()
	t := c.transport
	if t == nil {
		c.mu.Unlock()
		return fmt.Errorf("client is not connected")
	}
	if c.authoritative == nil {
		c.mu.Unlock()
		return fmt.Errorf("client has no state yet, sync first")
	}
	a.Payload.Credentials = c.credentials
	stateID := c.authoritative.StateID

	if predicted, err := c.r.Apply(c.authoritative, a); err == nil {
		c.optimistic = predicted.ClientView()
	}
	c.mu.Unlock()

	c.notify()
	return t.SendAction(a, stateID)
}

// Receive processes one envelope from the coordinator. Transports call this
// from their read loop.
func (c *Client) Receive(env *wire.Envelope) {
	if env == nil {
		return
	}
	changed := false
	resync := false

	c.mu.Lock()
	switch env.Type {
	case wire.MsgSyncResponse:
		if sr := env.SyncResponse; sr != nil && sr.State != nil {
			c.authoritative = sr.State.Clone()
			c.optimistic = nil
			c.log = append([]state.LogEntry(nil), sr.Log...)
			c.players = sr.FilteredMetadata
			changed = true
		}
	case wire.MsgUpdatePush:
		if up := env.UpdatePush; up != nil && up.State != nil {
			if c.authoritative == nil || up.State.StateID > c.authoritative.StateID {
				c.authoritative = up.State.Clone()
				c.optimistic = nil
				c.log = append(c.log, up.Deltalog...)
				changed = true
			}
		}
	case wire.MsgPatch:
		if p := env.Patch; p != nil {
			switch {
			case c.authoritative == nil:
				resync = true
			case p.PrevStateID != c.authoritative.StateID:
				// Missed an update; the patch base is gone.
				resync = true
			default:
				next, err := applyPatch(c.authoritative, p)
				if err != nil {
					resync = true
				} else {
					c.authoritative = next
					c.optimistic = nil
					c.log = append(c.log, p.Deltalog...)
					changed = true
				}
			}
		}
	case wire.MsgMatchData:
		if md := env.MatchData; md != nil {
			c.players = md.Players
			changed = true
		}
	case wire.MsgChatPush:
		if env.ChatPush != nil {
			c.chat = append(c.chat, *env.ChatPush)
			changed = true
		}
	case wire.MsgError:
		c.lastErr = env.Error
		// A denied prediction must not linger on screen.
		c.optimistic = nil
		changed = true
	}
	t := c.transport
	c.mu.Unlock()

	if resync && t != nil {
		if err := t.RequestSync(); err == nil {
			return
		}
	}
	if changed {
		c.notify()
	}
}

// UpdateMatchID follows the client to another match and resyncs.
func (c *Client) UpdateMatchID(matchID string) error {
	c.mu.Lock()
	c.matchID = matchID
	c.authoritative = nil
	c.optimistic = nil
	c.log = nil
	c.chat = nil
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	t.UpdateMatchID(matchID)
	return t.RequestSync()
}

// UpdatePlayerID switches the seat this client plays and resyncs. The held
// state is discarded until the sync response arrives, since the player view
// differs per seat.
func (c *Client) UpdatePlayerID(playerID string) error {
	c.mu.Lock()
	c.playerID = playerID
	c.authoritative = nil
	c.optimistic = nil
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	t.UpdatePlayerID(playerID)
	return t.RequestSync()
}

// UpdateCredentials installs new credentials and resyncs, so a request the
// old credentials could not authorize is retried with the new ones.
func (c *Client) UpdateCredentials(credentials string) error {
	c.mu.Lock()
	c.credentials = credentials
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	t.UpdateCredentials(credentials)
	return t.RequestSync()
}

// NumPlayers returns the player count to request on initial sync.
func (c *Client) NumPlayers() int { return c.opts.NumPlayers }

func (c *Client) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// applyPatch applies the ordered JSON Patch operations to the authoritative
// state and returns the decoded successor.
func applyPatch(s *state.State, p *wire.PatchPush) (*state.State, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(p.Operations)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	next := new(state.State)
	if err := json.Unmarshal(patched, next); err != nil {
		return nil, fmt.Errorf("unmarshal patched state: %w", err)
	}
	if next.StateID != p.StateID {
		return nil, fmt.Errorf("patched state ID %d, expected %d", next.StateID, p.StateID)
	}
	return next, nil
}
