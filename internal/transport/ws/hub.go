// Package ws carries the coordinator protocol over websockets. The hub is
// the server side; Dialer is the matching client transport.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"turnforge/internal/master"
	"turnforge/internal/wire"
)

const (
	sendBuffer   = 64
	pingInterval = 15 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub accepts websocket connections and routes their envelopes to the
// coordinator. It implements master.TransportAPI.
type Hub struct {
	allowOrigins map[string]bool
	log          *slog.Logger

	mu     sync.Mutex
	master *master.Master
	conns  map[string]map[string]*conn // matchID -> playerID
}

// NewHub builds a hub restricted to the given origins; an empty list allows
// all.
func NewHub(allow []string, log *slog.Logger) *Hub {
	origins := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			origins[a] = true
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		allowOrigins: origins,
		log:          log,
		conns:        map[string]map[string]*conn{},
	}
}

// Attach binds the coordinator. Done separately from construction because the
// coordinator is built over this hub.
func (h *Hub) Attach(m *master.Master) {
	h.mu.Lock()
	h.master = m
	h.mu.Unlock()
}

// Send delivers one envelope to a single connected client.
func (h *Hub) Send(matchID, playerID string, msg *wire.Envelope) {
	h.mu.Lock()
	c := h.conns[matchID][playerID]
	if c != nil {
		c.enqueue(msg)
	}
	h.mu.Unlock()
}

// SendAll builds and delivers one envelope per client connected to the match.
func (h *Hub) SendAll(matchID string, build func(playerID string, knownStateID int64) *wire.Envelope) {
	h.mu.Lock()
	for playerID, c := range h.conns[matchID] {
		if msg := build(playerID, c.known); msg != nil {
			c.enqueue(msg)
		}
	}
	h.mu.Unlock()
}

type conn struct {
	sock *websocket.Conn
	send chan *wire.Envelope

	matchID     string
	playerID    string
	credentials string
	known       int64 // guarded by Hub.mu
}

// enqueue hands an envelope to the connection's writer. Called with Hub.mu
// held; full buffers drop, the client resyncs on the gap.
func (c *conn) enqueue(msg *wire.Envelope) {
	if id, ok := msg.AuthStateID(); ok {
		c.known = id
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && len(h.allowOrigins) > 0 && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	c := &conn{sock: sock, send: make(chan *wire.Envelope, sendBuffer)}

	ctx := r.Context()
	go h.writer(ctx, c)
	h.reader(ctx, c)

	h.drop(c)
	close(c.send)
	if m := h.coordinator(); m != nil && c.playerID != "" {
		_ = m.OnConnectionChange(context.Background(), c.matchID, c.playerID, c.credentials, false)
	}
	_ = sock.Close(websocket.StatusNormalClosure, "bye")
}

func (h *Hub) writer(ctx context.Context, c *conn) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("marshal envelope", "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.sock.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			if err := c.sock.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) reader(ctx context.Context, c *conn) {
	for {
		_, data, err := c.sock.Read(ctx)
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Debug("unreadable envelope dropped", "err", err)
			continue
		}
		h.dispatch(ctx, c, &env)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *conn, env *wire.Envelope) {
	m := h.coordinator()
	if m == nil {
		return
	}
	switch env.Type {
	case wire.MsgSync:
		if env.Sync == nil {
			return
		}
		fresh := h.rekey(c, env.MatchID, env.Sync.PlayerID, env.Sync.Credentials)
		// Sync before presence: sync is what auto-creates the match, and
		// presence can only be recorded against an existing match record.
		if err := m.OnSync(ctx, env.MatchID, env.Sync.PlayerID, env.Sync.Credentials, env.Sync.NumPlayers); err != nil {
			h.log.Debug("sync refused", "matchID", env.MatchID, "playerID", env.Sync.PlayerID, "err", err)
		}
		if fresh && env.Sync.PlayerID != "" {
			_ = m.OnConnectionChange(ctx, env.MatchID, env.Sync.PlayerID, env.Sync.Credentials, true)
		}
	case wire.MsgUpdate:
		if env.Update == nil {
			return
		}
		if err := m.OnUpdate(ctx, env.MatchID, env.Update.Action, env.Update.StateID, env.Update.PlayerID); err != nil {
			h.log.Debug("update refused", "matchID", env.MatchID, "playerID", env.Update.PlayerID, "err", err)
		}
	case wire.MsgChat:
		if env.Chat == nil {
			return
		}
		if err := m.OnChatMessage(ctx, env.MatchID, env.Chat.Message, env.Chat.Credentials); err != nil {
			h.log.Debug("chat refused", "matchID", env.MatchID, "err", err)
		}
	}
}

// rekey registers the connection under its (match, player) identity, moving
// it when the identity changed. Reports whether this is a new registration.
func (h *Hub) rekey(c *conn, matchID, playerID, credentials string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.matchID == matchID && c.playerID == playerID {
		c.credentials = credentials
		return false
	}
	if byPlayer := h.conns[c.matchID]; byPlayer[c.playerID] == c {
		delete(byPlayer, c.playerID)
		if len(byPlayer) == 0 {
			delete(h.conns, c.matchID)
		}
	}
	c.matchID, c.playerID, c.credentials = matchID, playerID, credentials
	byPlayer := h.conns[matchID]
	if byPlayer == nil {
		byPlayer = map[string]*conn{}
		h.conns[matchID] = byPlayer
	}
	byPlayer[playerID] = c
	return true
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	if byPlayer := h.conns[c.matchID]; byPlayer[c.playerID] == c {
		delete(byPlayer, c.playerID)
		if len(byPlayer) == 0 {
			delete(h.conns, c.matchID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) coordinator() *master.Master {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.master
}
