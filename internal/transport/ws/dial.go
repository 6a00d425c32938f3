package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"turnforge/internal/client"
	"turnforge/internal/state"
	"turnforge/internal/wire"
)

// Dialer is the websocket client transport. It dials a hub, pushes inbound
// envelopes into its client and writes requests on demand.
type Dialer struct {
	url    string
	client *client.Client

	mu          sync.Mutex
	sock        *websocket.Conn
	cancel      context.CancelFunc
	matchID     string
	playerID    string
	credentials string
}

var _ client.Transport = (*Dialer)(nil)

// NewDialer builds a transport for the given client against a hub URL.
func NewDialer(url string, c *client.Client) *Dialer {
	return &Dialer{url: url, client: c}
}

// Connect dials the hub, starts the read loop and requests the initial sync.
func (d *Dialer) Connect(ctx context.Context) error {
	sock, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.url, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.sock = sock
	d.cancel = cancel
	d.mu.Unlock()

	go d.readLoop(readCtx, sock)
	return d.RequestSync()
}

// Disconnect stops the read loop and closes the socket.
func (d *Dialer) Disconnect() error {
	d.mu.Lock()
	sock := d.sock
	cancel := d.cancel
	d.sock = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock == nil {
		return nil
	}
	return sock.Close(websocket.StatusNormalClosure, "bye")
}

// SendAction submits an action envelope.
func (d *Dialer) SendAction(a state.Action, stateID int64) error {
	d.mu.Lock()
	matchID, playerID := d.matchID, d.playerID
	d.mu.Unlock()
	return d.write(&wire.Envelope{
		Type:    wire.MsgUpdate,
		MatchID: matchID,
		Update:  &wire.UpdateRequest{Action: a, StateID: stateID, PlayerID: playerID},
	})
}

// SendChatMessage submits a chat envelope.
func (d *Dialer) SendChatMessage(msg wire.ChatMessage) error {
	d.mu.Lock()
	matchID, credentials := d.matchID, d.credentials
	d.mu.Unlock()
	return d.write(&wire.Envelope{
		Type:    wire.MsgChat,
		MatchID: matchID,
		Chat:    &wire.ChatRequest{Message: msg, Credentials: credentials},
	})
}

// RequestSync asks the hub for the full current state.
func (d *Dialer) RequestSync() error {
	d.mu.Lock()
	matchID, playerID, credentials := d.matchID, d.playerID, d.credentials
	d.mu.Unlock()
	return d.write(&wire.Envelope{
		Type:    wire.MsgSync,
		MatchID: matchID,
		Sync: &wire.SyncRequest{
			PlayerID:    playerID,
			Credentials: credentials,
			NumPlayers:  d.client.NumPlayers(),
		},
	})
}

// UpdateMatchID re-homes the transport onto another match.
func (d *Dialer) UpdateMatchID(matchID string) {
	d.mu.Lock()
	d.matchID = matchID
	d.mu.Unlock()
}

// UpdatePlayerID re-homes the transport onto another seat.
func (d *Dialer) UpdatePlayerID(playerID string) {
	d.mu.Lock()
	d.playerID = playerID
	d.mu.Unlock()
}

// UpdateCredentials installs new credentials for subsequent requests.
func (d *Dialer) UpdateCredentials(credentials string) {
	d.mu.Lock()
	d.credentials = credentials
	d.mu.Unlock()
}

func (d *Dialer) readLoop(ctx context.Context, sock *websocket.Conn) {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		d.client.Receive(&env)
	}
}

// write serialises one envelope onto the socket. The lock keeps concurrent
// writers from interleaving frames.
func (d *Dialer) write(env *wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sock == nil {
		return fmt.Errorf("transport is not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return d.sock.Write(ctx, websocket.MessageText, data)
}
