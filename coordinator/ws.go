package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vultisig/relay/mediator"
)

// ControlClient is a device's end of the relay's realtime channel. It
// announces the device identity with a Hello envelope on dial and surfaces
// every frame forwarded by the hub on Frames.
type ControlClient struct {
	conn *websocket.Conn
	mu   sync.Mutex

	// Frames receives forwarded control envelopes. The reader must drain
	// it; frames are dropped with a log once the buffer is full.
	Frames chan mediator.Envelope

	closeOnce sync.Once
}

// DialControl connects to the relay's WebSocket endpoint and binds
// clientKey to the new connection. server is the relay's HTTP base URL.
func DialControl(ctx context.Context, server, clientKey string) (*ControlClient, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("fail to parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fail to dial relay websocket: %w", err)
	}
	c := &ControlClient{
		conn:   conn,
		Frames: make(chan mediator.Envelope, 16),
	}
	if err := c.sendEnvelope(mediator.HelloMessage, mediator.HelloPayload{ClientKey: clientKey}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("fail to send hello message: %w", err)
	}
	go c.readLoop()
	return c, nil
}

func (c *ControlClient) readLoop() {
	defer close(c.Frames)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope mediator.Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			log.Errorf("fail to decode forwarded envelope: %s", err)
			continue
		}
		select {
		case c.Frames <- envelope:
		default:
			log.Errorf("dropping forwarded %s envelope, frame buffer full", envelope.Header)
		}
	}
}

// StartSession declares clientKey the owner of sessionID; the hub routes
// join/drop envelopes for that session to this connection.
func (c *ControlClient) StartSession(sessionID, clientKey string) error {
	return c.sendEnvelope(mediator.StartSession, mediator.SessionPayload{SessionID: sessionID, ClientKey: clientKey})
}

// JoinSession asks the session owner to admit clientKey.
func (c *ControlClient) JoinSession(sessionID, clientKey string) error {
	return c.sendEnvelope(mediator.JoinSession, mediator.SessionPayload{SessionID: sessionID, ClientKey: clientKey})
}

// DropSession tells the session owner clientKey is leaving.
func (c *ControlClient) DropSession(sessionID, clientKey string) error {
	return c.sendEnvelope(mediator.DropSession, mediator.SessionPayload{SessionID: sessionID, ClientKey: clientKey})
}

// EndSession clears the owner record for sessionID on the hub.
func (c *ControlClient) EndSession(sessionID string) error {
	return c.sendEnvelope(mediator.EndSession, mediator.SessionPayload{SessionID: sessionID})
}

// StartTSS broadcasts the ceremony kickoff to every connected committee
// member.
func (c *ControlClient) StartTSS(committee []string) error {
	return c.sendEnvelope(mediator.StartTSS, mediator.CommitteePayload{Committee: committee})
}

// Route sends an opaque protocol payload to one committee member.
func (c *ControlClient) Route(to, body string) error {
	return c.sendEnvelope(mediator.TSSRouting, mediator.RoutingPayload{To: to, Body: body})
}

func (c *ControlClient) sendEnvelope(header mediator.MessageHeader, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fail to marshal %s payload: %w", header, err)
	}
	frame, err := json.Marshal(mediator.Envelope{Header: header, Body: string(body)})
	if err != nil {
		return fmt.Errorf("fail to marshal %s envelope: %w", header, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("fail to send %s envelope: %w", header, err)
	}
	return nil
}

func (c *ControlClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
