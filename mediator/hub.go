package mediator

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Hub is the realtime control channel: one live connection per device
// identifier, a six-way dispatch over control envelopes, and store-and-
// forward routing. Join/drop traffic goes through the recorded session
// owner; StartTSS and TSSRouting go directly to committee members.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient // device identifier -> live connection
	owners  map[string]string    // session ID -> owner identifier
}

func newHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// the relay runs on a trusted local network, no origin policy
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
		owners:  make(map[string]string),
	}
}

// wsClient wraps a connection with a write lock; gorilla connections allow
// only one concurrent writer.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (h *Hub) serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	h.readLoop(&wsClient{conn: conn})
	return nil
}

func (h *Hub) readLoop(client *wsClient) {
	defer h.dropClient(client)
	for {
		msgType, frame, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.dispatch(client, frame)
	}
}

// dropClient removes every identifier bound to the closed connection. There
// is at most one in practice, but duplicate bindings are tolerated.
func (h *Hub) dropClient(client *wsClient) {
	_ = client.conn.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, bound := range h.clients {
		if bound == client {
			delete(h.clients, key)
		}
	}
}

func (h *Hub) dispatch(client *wsClient, frame []byte) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		log.Errorf("fail to decode websocket envelope: %s", err)
		return
	}
	switch envelope.Header {
	case HelloMessage:
		h.handleHello(client, envelope.Body)
	case StartSession:
		h.handleStartSession(envelope.Body)
	case JoinSession, DropSession:
		h.forwardToOwner(envelope.Body, frame)
	case EndSession:
		h.handleEndSession(envelope.Body)
	case StartTSS:
		h.handleStartTSS(envelope.Body, frame)
	case TSSRouting:
		h.handleTSSRouting(envelope.Body, frame)
	default:
		log.Errorf("unknown envelope header: %s", envelope.Header)
	}
}

func (h *Hub) handleHello(client *wsClient, body string) {
	var payload HelloPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Errorf("fail to decode hello message: %s", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	// reconnection silently replaces any previous binding
	h.clients[payload.ClientKey] = client
}

// handleStartSession records which device owns the session. Last write
// wins; retries of StartSession are treated as authoritative.
func (h *Hub) handleStartSession(body string) {
	var payload SessionPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Errorf("fail to decode start session message: %s", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owners[payload.SessionID] = payload.ClientKey
}

// forwardToOwner relays a join or drop envelope, untouched, to whoever
// started the session. Without a recorded owner, or with the owner
// offline, the frame is lost; joiners retry at the protocol layer above.
func (h *Hub) forwardToOwner(body string, frame []byte) {
	var payload SessionPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Errorf("fail to decode session message: %s", err)
		return
	}
	h.mu.Lock()
	owner, ok := h.owners[payload.SessionID]
	if !ok {
		h.mu.Unlock()
		log.Debugf("session %s is not started", payload.SessionID)
		return
	}
	client, ok := h.clients[owner]
	h.mu.Unlock()
	if !ok {
		log.Debugf("session owner %s is not online", owner)
		return
	}
	if err := client.send(frame); err != nil {
		log.Errorf("fail to forward message to session owner %s: %s", owner, err)
	}
}

func (h *Hub) handleEndSession(body string) {
	var payload SessionPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Errorf("fail to decode end session message: %s", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.owners, payload.SessionID)
}

// handleStartTSS broadcasts the verbatim frame to every committee member
// currently connected; offline members are skipped.
func (h *Hub) handleStartTSS(body string, frame []byte) {
	var payload CommitteePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Errorf("fail to decode start tss message: %s", err)
		return
	}
	h.mu.Lock()
	targets := make([]*wsClient, 0, len(payload.Committee))
	for _, member := range payload.Committee {
		if client, ok := h.clients[member]; ok {
			targets = append(targets, client)
		}
	}
	h.mu.Unlock()
	for _, client := range targets {
		if err := client.send(frame); err != nil {
			log.Errorf("fail to forward start tss message: %s", err)
		}
	}
}

// handleTSSRouting forwards the verbatim frame to a single recipient.
// Best effort; an offline recipient just loses the frame.
func (h *Hub) handleTSSRouting(body string, frame []byte) {
	var payload RoutingPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Errorf("fail to decode tss routing message: %s", err)
		return
	}
	h.mu.Lock()
	client, ok := h.clients[payload.To]
	h.mu.Unlock()
	if !ok {
		log.Errorf("client %s is offline", payload.To)
		return
	}
	if err := client.send(frame); err != nil {
		log.Errorf("fail to forward message to %s: %s", payload.To, err)
	}
}

// connected reports whether an identifier has a live connection.
func (h *Hub) connected(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[key]
	return ok
}

// binding returns the connection currently bound to an identifier.
func (h *Hub) binding(key string) *wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[key]
}

// owner returns the recorded owner of a session, if any.
func (h *Hub) owner(sessionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.owners[sessionID]
	return o, ok
}
