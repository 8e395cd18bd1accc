// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package bridgeserver is the HTTP/WebSocket front door: carrier media
// sockets, UI fan-out sockets, and the start-session trigger (spec.md §4.3).
package bridgeserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rapidaai/voicebridge/internal/datastore"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/model"
	"github.com/rapidaai/voicebridge/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the call_id -> *session.Session and call_id -> UI-socket-set
// registries and exposes the gin engine that serves them.
type Server struct {
	engine *gin.Engine

	store      datastore.Adapter
	logger     logging.Logger
	bridgeHost string
	sessionCfg session.Config

	sessionsMu sync.RWMutex
	sessions   map[string]*session.Session

	uiSocketsMu sync.RWMutex
	uiSockets   map[string]map[*websocket.Conn]struct{}
}

// New builds a Server with all routes registered.
func New(store datastore.Adapter, logger logging.Logger, bridgeHost string, sessionCfg session.Config) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		engine:     engine,
		store:      store,
		logger:     logger,
		bridgeHost: bridgeHost,
		sessionCfg: sessionCfg,
		sessions:   make(map[string]*session.Session),
		uiSockets:  make(map[string]map[*websocket.Conn]struct{}),
	}
	s.registerRoutes()
	return s
}

// Engine returns the underlying gin engine, e.g. for http.Server wiring.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/telnyx-stream", s.handleCarrierStream)
	s.engine.GET("/frontend", s.handleFrontendStream)
	s.engine.POST("/start-session", s.handleStartSession)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.sessionsMu.RLock()
	active := len(s.sessions)
	s.sessionsMu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"activeSessions": active,
		"timestamp":      time.Now().UTC(),
	})
}

type startSessionRequest struct {
	CallID      string                 `json:"call_id"`
	Phone       string                 `json:"phone"`
	CallContext map[string]interface{} `json:"call_context"`
}

// handleStartSession hands back the carrier media-stream URL for an
// existing call row, minting a fresh call_id (and a pending Call row) when
// the caller supplies a phone number instead of an existing call_id.
func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	callID := req.CallID
	if callID == "" {
		if req.Phone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "call_id or phone is required"})
			return
		}
		callID = uuid.NewString()
		call := &model.Call{
			ID:        callID,
			Phone:     req.Phone,
			Direction: model.CallDirectionOutbound,
			Status:    model.CallStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.InsertCall(c.Request.Context(), call); err != nil {
			s.logger.Errorf("start-session: insert call: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create call"})
			return
		}
	}

	streamURL := fmt.Sprintf("wss://%s/telnyx-stream?call_id=%s", s.bridgeHost, callID)
	c.JSON(http.StatusOK, gin.H{"success": true, "call_id": callID, "stream_url": streamURL})
}

// handleCarrierStream upgrades, builds and registers a session for call_id,
// connects it to inference, and attaches the carrier socket.
func (s *Server) handleCarrierStream(c *gin.Context) {
	callID := c.Query("call_id")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnf("carrier stream upgrade failed for call %s: %v", callID, err)
		return
	}

	sess := session.New(callID, s.sessionCfg, s.store, &callbackBroadcaster{server: s, callID: callID}, s.logger)
	s.registerSession(callID, sess)

	if err := sess.ConnectToInference(c.Request.Context()); err != nil {
		s.logger.Errorf("connect to inference failed for call %s: %v", callID, err)
		sess.Cleanup()
		s.unregisterSession(callID)
		conn.Close()
		return
	}
	sess.AttachCarrierSocket(conn)

	defer func() {
		sess.Cleanup()
		s.unregisterSession(callID)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleCarrierMessage(message)
	}
}

// handleFrontendStream registers a UI fan-out socket under call_id.
func (s *Server) handleFrontendStream(c *gin.Context) {
	callID := c.Query("call_id")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnf("frontend stream upgrade failed for call %s: %v", callID, err)
		return
	}

	s.registerUISocket(callID, conn)
	defer func() {
		s.unregisterUISocket(callID, conn)
		conn.Close()
	}()

	// The UI socket is receive-only from the bridge's perspective; drain
	// reads so the connection's close/ping control frames are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) registerSession(callID string, sess *session.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[callID] = sess
}

func (s *Server) unregisterSession(callID string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, callID)
}

func (s *Server) registerUISocket(callID string, conn *websocket.Conn) {
	s.uiSocketsMu.Lock()
	defer s.uiSocketsMu.Unlock()
	set, ok := s.uiSockets[callID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		s.uiSockets[callID] = set
	}
	set[conn] = struct{}{}
}

func (s *Server) unregisterUISocket(callID string, conn *websocket.Conn) {
	s.uiSocketsMu.Lock()
	defer s.uiSocketsMu.Unlock()
	if set, ok := s.uiSockets[callID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(s.uiSockets, callID)
		}
	}
}

// broadcast sends a JSON event to every UI socket registered for callID.
func (s *Server) broadcast(callID string, payload gin.H) {
	s.uiSocketsMu.RLock()
	defer s.uiSocketsMu.RUnlock()
	for conn := range s.uiSockets[callID] {
		_ = conn.WriteJSON(payload)
	}
}

// callbackBroadcaster adapts session.Callbacks to the server's UI fan-out.
type callbackBroadcaster struct {
	server *Server
	callID string
}

func (b *callbackBroadcaster) OnTranscript(speaker model.Speaker, text string) {
	b.server.broadcast(b.callID, gin.H{
		"event":     "transcript",
		"speaker":   speaker,
		"text":      text,
		"timestamp": time.Now().UTC(),
	})
}

func (b *callbackBroadcaster) OnError(err error) {
	b.server.logger.Errorf("session error for call %s: %v", b.callID, err)
	b.server.broadcast(b.callID, gin.H{
		"event":     "error",
		"message":   err.Error(),
		"timestamp": time.Now().UTC(),
	})
}

func (b *callbackBroadcaster) OnEnd() {
	b.server.broadcast(b.callID, gin.H{
		"event":     "end",
		"timestamp": time.Now().UTC(),
	})
}
