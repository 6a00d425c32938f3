// Package local wires clients and a coordinator together in one process, with
// no sockets. It backs tests, bots and offline play while exercising the same
// sync, patch and presence paths as the network transports.
package local

import (
	"context"
	"fmt"
	"sync"

	"turnforge/internal/client"
	"turnforge/internal/master"
	"turnforge/internal/state"
	"turnforge/internal/wire"
)

const inboxSize = 64

// Network is an in-process message fabric. It implements master.TransportAPI
// on the coordinator side and hands out client.Transport connections on the
// other.
type Network struct {
	mu     sync.Mutex
	master *master.Master
	conns  map[string]map[string]*Conn // matchID -> playerID
}

// NewNetwork returns an empty fabric. Attach the coordinator before
// connecting clients.
func NewNetwork() *Network {
	return &Network{conns: make(map[string]map[string]*Conn)}
}

// Attach binds the coordinator. Done separately from construction because the
// coordinator itself is built over this network.
func (n *Network) Attach(m *master.Master) {
	n.mu.Lock()
	n.master = m
	n.mu.Unlock()
}

// Send delivers one envelope to a single connected client.
func (n *Network) Send(matchID, playerID string, msg *wire.Envelope) {
	n.mu.Lock()
	conn := n.conns[matchID][playerID]
	if conn != nil {
		conn.enqueue(msg)
	}
	n.mu.Unlock()
}

// SendAll builds and delivers one envelope per connected client. Delivery is
// asynchronous so the coordinator's match lock is never held while a client
// reacts, which may itself call back into the coordinator.
func (n *Network) SendAll(matchID string, build func(playerID string, knownStateID int64) *wire.Envelope) {
	n.mu.Lock()
	for playerID, conn := range n.conns[matchID] {
		if msg := build(playerID, conn.known); msg != nil {
			conn.enqueue(msg)
		}
	}
	n.mu.Unlock()
}

// NewConn returns a transport for the given client.
func (n *Network) NewConn(c *client.Client) *Conn {
	return &Conn{network: n, client: c}
}

// Conn is one client's connection to the fabric.
type Conn struct {
	network *Network
	client  *client.Client

	mu          sync.Mutex
	matchID     string
	playerID    string
	credentials string
	connected   bool
	known       int64 // last state ID delivered, guarded by network.mu
	inbox       chan *wire.Envelope
	done        chan struct{}
}

var _ client.Transport = (*Conn)(nil)

// enqueue hands an envelope to the connection's pump. Called with network.mu
// held.
func (c *Conn) enqueue(msg *wire.Envelope) {
	if id, ok := msg.AuthStateID(); ok {
		c.known = id
	}
	select {
	case c.inbox <- msg:
	default:
		// Inbox overflow: the slow client will notice the gap and resync.
	}
}

// Connect registers the connection, reports presence and requests the initial
// sync.
func (c *Conn) Connect(ctx context.Context) error {
	m := c.master()
	if m == nil {
		return fmt.Errorf("local network has no coordinator attached")
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	c.inbox = make(chan *wire.Envelope, inboxSize)
	c.done = make(chan struct{})
	matchID, playerID := c.matchID, c.playerID
	inbox, done := c.inbox, c.done
	c.mu.Unlock()

	c.network.register(matchID, playerID, c)
	go c.pump(inbox, done)

	// Sync first: it is what auto-creates the match, and presence can only
	// be recorded against an existing match record.
	if err := c.RequestSync(); err != nil {
		return err
	}
	if playerID != "" {
		_ = m.OnConnectionChange(ctx, matchID, playerID, c.creds(), true)
	}
	return nil
}

// Disconnect reports the departure and unregisters the connection.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	close(c.done)
	matchID, playerID := c.matchID, c.playerID
	c.mu.Unlock()

	c.network.unregister(matchID, playerID, c)
	if m := c.master(); m != nil && playerID != "" {
		_ = m.OnConnectionChange(context.Background(), matchID, playerID, c.creds(), false)
	}
	return nil
}

// SendAction submits an action to the coordinator.
func (c *Conn) SendAction(a state.Action, stateID int64) error {
	m := c.master()
	if m == nil {
		return fmt.Errorf("local network has no coordinator attached")
	}
	err := m.OnUpdate(context.Background(), c.match(), a, stateID, c.player())
	var rej *state.Rejection
	if err != nil && !asRejection(err, &rej) {
		return err
	}
	// Rejections already reached the client as an error envelope.
	return nil
}

// SendChatMessage relays a chat message.
func (c *Conn) SendChatMessage(msg wire.ChatMessage) error {
	m := c.master()
	if m == nil {
		return fmt.Errorf("local network has no coordinator attached")
	}
	return m.OnChatMessage(context.Background(), c.match(), msg, c.creds())
}

// RequestSync asks the coordinator for the full current state.
func (c *Conn) RequestSync() error {
	m := c.master()
	if m == nil {
		return fmt.Errorf("local network has no coordinator attached")
	}
	err := m.OnSync(context.Background(), c.match(), c.player(), c.creds(), c.client.NumPlayers())
	var rej *state.Rejection
	if err != nil && !asRejection(err, &rej) {
		return err
	}
	return nil
}

// UpdateMatchID re-homes the connection onto another match.
func (c *Conn) UpdateMatchID(matchID string) {
	c.rekey(func() { c.matchID = matchID })
}

// UpdatePlayerID re-homes the connection onto another seat.
func (c *Conn) UpdatePlayerID(playerID string) {
	c.rekey(func() { c.playerID = playerID })
}

// UpdateCredentials installs new credentials for subsequent requests.
func (c *Conn) UpdateCredentials(credentials string) {
	c.mu.Lock()
	c.credentials = credentials
	c.mu.Unlock()
}

// pump delivers inbound envelopes outside all locks.
func (c *Conn) pump(inbox chan *wire.Envelope, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-inbox:
			c.client.Receive(msg)
		}
	}
}

func (c *Conn) rekey(apply func()) {
	c.mu.Lock()
	wasConnected := c.connected
	oldMatch, oldPlayer := c.matchID, c.playerID
	apply()
	newMatch, newPlayer := c.matchID, c.playerID
	c.mu.Unlock()

	if wasConnected && (oldMatch != newMatch || oldPlayer != newPlayer) {
		c.network.unregister(oldMatch, oldPlayer, c)
		c.network.register(newMatch, newPlayer, c)
	}
}

func (c *Conn) master() *master.Master {
	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	return c.network.master
}

func (c *Conn) match() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

func (c *Conn) player() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Conn) creds() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credentials
}

func (n *Network) register(matchID, playerID string, c *Conn) {
	n.mu.Lock()
	byPlayer := n.conns[matchID]
	if byPlayer == nil {
		byPlayer = make(map[string]*Conn)
		n.conns[matchID] = byPlayer
	}
	byPlayer[playerID] = c
	n.mu.Unlock()
}

func (n *Network) unregister(matchID, playerID string, c *Conn) {
	n.mu.Lock()
	if byPlayer := n.conns[matchID]; byPlayer[playerID] == c {
		delete(byPlayer, playerID)
		if len(byPlayer) == 0 {
			delete(n.conns, matchID)
		}
	}
	n.mu.Unlock()
}

func asRejection(err error, target **state.Rejection) bool {
	r, ok := err.(*state.Rejection)
	if ok {
		*target = r
	}
	return ok
}
