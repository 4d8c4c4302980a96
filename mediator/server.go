package mediator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
)

var log = logging.Logger("mediator")

// Server is the session relay. Devices register themselves under a session
// ID over HTTP, deposit and poll opaque ceremony messages, and exchange
// control envelopes through the companion WebSocket hub. All state is held
// in memory and owned exclusively by this process.
type Server struct {
	port  int
	store *Store
	reg   registry
	hub   *Hub
	echo  *echo.Echo
}

func NewServer(port int) *Server {
	store := NewStore()
	s := &Server{
		port:  port,
		store: store,
		reg:   registry{store: store},
		hub:   newHub(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// register participants / list them / tear the session down
	e.POST("/:sessionID", s.postSession)
	e.GET("/:sessionID", s.getSession)
	e.DELETE("/:sessionID", s.deleteSession)
	// per-recipient message mailbox
	e.POST("/message/:sessionID", s.postMessage)
	e.GET("/message/:sessionID/:participantKey", s.getMessages)
	e.DELETE("/message/:sessionID/:participantKey/:hash", s.deleteMessage)
	// mark / query the keygen or keysign start
	e.POST("/start/:sessionID", s.startCeremony)
	e.GET("/start/:sessionID", s.getCeremonyStart)
	e.GET("/websocket/ws", s.hub.serve)
	s.echo = e
	return s
}

// Start blocks serving HTTP and WebSocket traffic until Stop is called.
func (s *Server) Start() error {
	log.Infof("starting relay server on port %d", s.port)
	return s.echo.Start(fmt.Sprintf(":%d", s.port))
}

// Stop shuts the listener down and wipes all relay state.
func (s *Server) Stop(ctx context.Context) error {
	defer s.store.Clear()
	return s.echo.Shutdown(ctx)
}

// Handler exposes the full HTTP surface, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// requireBody rejects zero-length request bodies up front; echo's Bind
// treats them as a successful no-op decode, which would let a bodyless
// POST plant phantom records.
func requireBody(c echo.Context) error {
	if c.Request().ContentLength == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}
	return nil
}

// cleanParam trims the named path parameter; identifiers are storage keys
// so surrounding whitespace must never reach the store.
func cleanParam(c echo.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Param(name))
	if v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is empty")
	}
	return v, nil
}

func (s *Server) postSession(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	if err := requireBody(c); err != nil {
		return err
	}
	var participants []string
	if err := c.Bind(&participants); err != nil {
		log.Errorf("fail to decode participants for session %s: %s", sessionID, err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json payload")
	}
	s.reg.register(sessionID, participants)
	return c.NoContent(http.StatusCreated)
}

func (s *Server) getSession(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	participants, ok := s.reg.participants(sessionID)
	if !ok {
		log.Debugf("session %s not found", sessionID)
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, participants)
}

func (s *Server) deleteSession(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	s.reg.remove(sessionID)
	return c.NoContent(http.StatusOK)
}

func (s *Server) postMessage(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	if err := requireBody(c); err != nil {
		return err
	}
	roundID := c.Request().Header.Get(roundIDHeader)
	var msg Message
	if err := c.Bind(&msg); err != nil {
		log.Errorf("fail to decode message payload: %s", err)
		return echo.NewHTTPError(http.StatusBadRequest, "fail to decode payload")
	}
	entries := make(map[string]any, len(msg.To))
	for _, recipient := range msg.To {
		entries[messageKey(sessionID, recipient, roundID, msg.Hash)] = msg
	}
	s.store.SetMulti(entries)
	log.Infof("received message %s from %s to %v", msg.Hash, msg.From, msg.To)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) getMessages(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	participantKey, err := cleanParam(c, "participantKey")
	if err != nil {
		return err
	}
	roundID := c.Request().Header.Get(roundIDHeader)
	prefix := messagePrefix(sessionID, participantKey, roundID)
	keys := s.store.KeysWithPrefix(prefix)
	messages := make([]Message, 0, len(keys))
	for _, key := range keys {
		value, ok := s.store.Get(key)
		if !ok {
			continue
		}
		if msg, valid := value.(Message); valid {
			messages = append(messages, msg)
		}
	}
	return c.JSON(http.StatusOK, messages)
}

func (s *Server) deleteMessage(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	participantKey, err := cleanParam(c, "participantKey")
	if err != nil {
		return err
	}
	hash, err := cleanParam(c, "hash")
	if err != nil {
		return err
	}
	roundID := c.Request().Header.Get(roundIDHeader)
	key := messageKey(sessionID, participantKey, roundID, hash)
	s.store.Delete(key)
	log.Infof("message with key %s deleted", key)
	return c.NoContent(http.StatusOK)
}

func (s *Server) startCeremony(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	if err := requireBody(c); err != nil {
		return err
	}
	var participants []string
	if err := c.Bind(&participants); err != nil {
		log.Errorf("fail to decode start payload for session %s: %s", sessionID, err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json payload")
	}
	s.reg.markStarted(sessionID, participants)
	log.Infof("session %s marked as started", sessionID)
	return c.NoContent(http.StatusOK)
}

func (s *Server) getCeremonyStart(c echo.Context) error {
	sessionID, err := cleanParam(c, "sessionID")
	if err != nil {
		return err
	}
	participants, ok := s.reg.started(sessionID)
	if !ok {
		log.Debugf("session %s didn't start yet", sessionID)
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, participants)
}
