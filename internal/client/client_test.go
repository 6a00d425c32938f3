package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wI2L/jsondiff"

	"turnforge/internal/games/tictactoe"
	"turnforge/internal/reducer"
	"turnforge/internal/state"
	"turnforge/internal/wire"
)

type sentAction struct {
	action  state.Action
	stateID int64
}

type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	actions      []sentAction
	chats        []wire.ChatMessage
	syncRequests int
	matchID      string
	playerID     string
	credentials  string
}

func (ft *fakeTransport) Connect(ctx context.Context) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.connected = true
	return nil
}

func (ft *fakeTransport) Disconnect() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.connected = false
	return nil
}

func (ft *fakeTransport) SendAction(a state.Action, stateID int64) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.actions = append(ft.actions, sentAction{action: a, stateID: stateID})
	return nil
}

func (ft *fakeTransport) SendChatMessage(msg wire.ChatMessage) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.chats = append(ft.chats, msg)
	return nil
}

func (ft *fakeTransport) RequestSync() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.syncRequests++
	return nil
}

func (ft *fakeTransport) UpdateMatchID(matchID string)         { ft.matchID = matchID }
func (ft *fakeTransport) UpdatePlayerID(playerID string)       { ft.playerID = playerID }
func (ft *fakeTransport) UpdateCredentials(credentials string) { ft.credentials = credentials }

func (ft *fakeTransport) syncCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.syncRequests
}

func newClient(t *testing.T) (*Client, *fakeTransport, *reducer.Reducer) {
	t.Helper()
	c, err := New(tictactoe.Definition(), Options{MatchID: "m1", PlayerID: "0", NumPlayers: 2})
	require.NoError(t, err)
	ft := &fakeTransport{}
	require.NoError(t, c.Connect(context.Background(), ft))
	r, err := reducer.New(tictactoe.Definition())
	require.NoError(t, err)
	return c, ft, r
}

// serverStates builds the authoritative state sequence the tests feed in.
func serverStates(t *testing.T, r *reducer.Reducer) (*state.State, *state.State) {
	t.Helper()
	s0, err := r.InitialState(2, 1, nil)
	require.NoError(t, err)
	s1, err := r.Apply(s0, state.MakeMove("clickCell", "0", 4))
	require.NoError(t, err)
	return s0, s1
}

func syncTo(c *Client, s *state.State) {
	c.Receive(&wire.Envelope{
		Type:    wire.MsgSyncResponse,
		MatchID: "m1",
		SyncResponse: &wire.SyncResponse{
			State:            s.ClientView(),
			FilteredMetadata: []state.FilteredPlayer{{ID: 0}, {ID: 1}},
		},
	})
}

func TestDispatchRequiresState(t *testing.T) {
	c, _, _ := newClient(t)
	require.Error(t, c.Move("clickCell", 4), "moves before the first sync must fail")
}

func TestConnectPushesIdentity(t *testing.T) {
	c, ft, _ := newClient(t)
	assert.True(t, ft.connected)
	assert.Equal(t, "m1", ft.matchID)
	assert.Equal(t, "0", ft.playerID)
	require.NoError(t, c.Disconnect())
	assert.False(t, ft.connected)
}

func TestOptimisticPrediction(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)

	var notified int
	unsub := c.Subscribe(func() { notified++ })
	defer unsub()

	require.NoError(t, c.Move("clickCell", 4))

	// The predicted state is visible before any server reply.
	st := c.State()
	require.NotNil(t, st)
	assert.Equal(t, int64(1), st.StateID)
	assert.Contains(t, string(st.G), `"0"`)
	assert.Positive(t, notified)

	require.Len(t, ft.actions, 1)
	assert.Equal(t, state.ActionMakeMove, ft.actions[0].action.Type)
	assert.Equal(t, int64(0), ft.actions[0].stateID, "actions are stamped with the authoritative ID")
}

func TestUpdatePushConfirmsPrediction(t *testing.T) {
	c, _, r := newClient(t)
	s0, s1 := serverStates(t, r)
	syncTo(c, s0)
	require.NoError(t, c.Move("clickCell", 4))

	c.Receive(&wire.Envelope{
		Type:       wire.MsgUpdatePush,
		MatchID:    "m1",
		UpdatePush: &wire.UpdatePush{State: s1.ClientView(), Deltalog: s1.Deltalog},
	})

	st := c.State()
	assert.Equal(t, int64(1), st.StateID)
	assert.Len(t, c.Log(), 1)

	// A stale push must not regress the state.
	c.Receive(&wire.Envelope{
		Type:       wire.MsgUpdatePush,
		MatchID:    "m1",
		UpdatePush: &wire.UpdatePush{State: s0.ClientView()},
	})
	assert.Equal(t, int64(1), c.State().StateID)
}

func TestErrorClearsPrediction(t *testing.T) {
	c, _, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)
	require.NoError(t, c.Move("clickCell", 4))
	require.Equal(t, int64(1), c.State().StateID)

	c.Receive(&wire.Envelope{
		Type:    wire.MsgError,
		MatchID: "m1",
		Error:   &wire.Error{Code: string(state.CodeStaleStateID)},
	})

	assert.Equal(t, int64(0), c.State().StateID, "denied prediction must disappear")
	require.NotNil(t, c.LastError())
	assert.Equal(t, string(state.CodeStaleStateID), c.LastError().Code)
}

func TestPatchApplication(t *testing.T) {
	c, ft, r := newClient(t)
	s0, s1 := serverStates(t, r)
	syncTo(c, s0)

	patch, err := jsondiff.Compare(s0.ClientView(), s1.ClientView())
	require.NoError(t, err)
	ops, err := json.Marshal(patch)
	require.NoError(t, err)

	c.Receive(&wire.Envelope{
		Type:    wire.MsgPatch,
		MatchID: "m1",
		Patch: &wire.PatchPush{
			PrevStateID: 0,
			StateID:     1,
			Operations:  ops,
			Deltalog:    s1.Deltalog,
		},
	})

	st := c.State()
	require.NotNil(t, st)
	assert.Equal(t, int64(1), st.StateID)
	assert.JSONEq(t, string(s1.G), string(st.G))
	assert.Len(t, c.Log(), 1)
	assert.Zero(t, ft.syncCount())
}

func TestPatchBaseMismatchTriggersResync(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)

	c.Receive(&wire.Envelope{
		Type:    wire.MsgPatch,
		MatchID: "m1",
		Patch:   &wire.PatchPush{PrevStateID: 5, StateID: 6, Operations: json.RawMessage(`[]`)},
	})

	assert.Equal(t, 1, ft.syncCount(), "a missed update must trigger a resync")
	assert.Equal(t, int64(0), c.State().StateID)
}

func TestMalformedPatchTriggersResync(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)

	c.Receive(&wire.Envelope{
		Type:    wire.MsgPatch,
		MatchID: "m1",
		Patch:   &wire.PatchPush{PrevStateID: 0, StateID: 1, Operations: json.RawMessage(`not json`)},
	})
	assert.Equal(t, 1, ft.syncCount())

	// Operations that apply but land on the wrong version are refused too.
	c.Receive(&wire.Envelope{
		Type:    wire.MsgPatch,
		MatchID: "m1",
		Patch:   &wire.PatchPush{PrevStateID: 0, StateID: 9, Operations: json.RawMessage(`[]`)},
	})
	assert.Equal(t, 2, ft.syncCount())
}

func TestMatchDataAndChat(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)

	c.Receive(&wire.Envelope{
		Type:      wire.MsgMatchData,
		MatchID:   "m1",
		MatchData: &wire.MatchData{Players: []state.FilteredPlayer{{ID: 0, IsConnected: true}, {ID: 1}}},
	})
	players := c.Players()
	require.Len(t, players, 2)
	assert.True(t, players[0].IsConnected)

	c.Receive(&wire.Envelope{
		Type:     wire.MsgChatPush,
		MatchID:  "m1",
		ChatPush: &wire.ChatMessage{ID: "c1", Sender: "1", Payload: json.RawMessage(`"gg"`)},
	})
	require.Len(t, c.Chat(), 1)
	assert.Equal(t, "c1", c.Chat()[0].ID)

	require.NoError(t, c.SendChat(json.RawMessage(`"hello"`)))
	require.Len(t, ft.chats, 1)
	assert.Equal(t, "0", ft.chats[0].Sender)
	assert.NotEmpty(t, ft.chats[0].ID)
}

func TestUpdatePlayerIDDiscardsStateAndResyncs(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)
	require.NotNil(t, c.State())

	require.NoError(t, c.UpdatePlayerID("1"))
	assert.Nil(t, c.State(), "the seat changed, the held view is for the old seat")
	assert.Equal(t, "1", c.PlayerID())
	assert.Equal(t, "1", ft.playerID)
	assert.Equal(t, 1, ft.syncCount())
}

func TestUpdateCredentialsResyncs(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)

	require.NoError(t, c.UpdateCredentials("seat-secret"))
	assert.Equal(t, "seat-secret", ft.credentials)
	assert.Equal(t, 1, ft.syncCount())
}

func TestUpdateMatchIDClearsStateAndResyncs(t *testing.T) {
	c, ft, r := newClient(t)
	s0, _ := serverStates(t, r)
	syncTo(c, s0)
	require.NotNil(t, c.State())

	require.NoError(t, c.UpdateMatchID("m2"))
	assert.Nil(t, c.State())
	assert.Empty(t, c.Log())
	assert.Equal(t, "m2", c.MatchID())
	assert.Equal(t, "m2", ft.matchID)
	assert.Equal(t, 1, ft.syncCount())
}
