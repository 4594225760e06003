package server

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/nav"
	"github.com/gravitas-games/flowfield/internal/network"
	"github.com/gravitas-games/flowfield/pkg/models"
)

// Session tracks connected clients and forwards pipeline results to the
// connection that asked for them
type Session struct {
	ID        string
	CreatedAt time.Time

	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	clients     map[string]*models.Client // clientID -> Client
	connections map[string]*Connection    // clientID -> Connection
	requests    map[string]requesters     // requestID -> requesting connections
	lastPrune   time.Time
}

// requesters maps each connection waiting on a request to when it asked.
// Identical requests share one ID, so several connections can wait on it.
type requesters map[*Connection]time.Time

// SessionStatus represents the current state of the session
type SessionStatus struct {
	ClientCount     int   `json:"client_count"`
	PendingRequests int   `json:"pending_requests"`
	Uptime          int64 `json:"uptime"` // seconds
}

// NewSession creates a session. Request tracking expires after ttl, which
// should match the route cache TTL.
func NewSession(id string, ttl time.Duration, logger *zap.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		CreatedAt:   now,
		logger:      logger,
		ttl:         ttl,
		clients:     make(map[string]*models.Client),
		connections: make(map[string]*Connection),
		requests:    make(map[string]requesters),
		lastPrune:   now,
	}
}

// AddClient adds a client to the session
func (s *Session) AddClient(client *models.Client, conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ID] = client
	s.connections[client.ID] = conn
	s.logger.Info("Client joined session", zap.String("client", client.ID), zap.String("username", client.Username))
}

// RemoveClient removes a client and forgets its requests
func (s *Session) RemoveClient(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, waiting := range s.requests {
		delete(waiting, conn)
		if len(waiting) == 0 {
			delete(s.requests, id)
		}
	}
	if conn.client == nil {
		return
	}
	if current, ok := s.connections[conn.client.ID]; ok && current == conn {
		delete(s.clients, conn.client.ID)
		delete(s.connections, conn.client.ID)
		s.logger.Info("Client left session", zap.String("client", conn.client.ID))
	}
}

// Track routes events for requestID to conn, in addition to any
// connection already waiting on it
func (s *Session) Track(requestID string, conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting, ok := s.requests[requestID]
	if !ok {
		waiting = make(requesters)
		s.requests[requestID] = waiting
	}
	waiting[conn] = time.Now()
}

func (s *Session) requesters(requestID string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	waiting := s.requests[requestID]
	conns := make([]*Connection, 0, len(waiting))
	for conn := range waiting {
		conns = append(conns, conn)
	}
	return conns
}

// Handle forwards planned routes and published fields. Subscribe it to the
// engine's event bus.
func (s *Session) Handle(ev nav.Event) {
	if ev.RequestID == "" {
		return
	}
	conns := s.requesters(ev.RequestID)
	if len(conns) == 0 {
		return
	}

	var msg *network.ServerMessage
	switch ev.Type {
	case nav.EventRoutePlanned, nav.EventRouteUnreachable:
		msg = &network.ServerMessage{
			Type: network.MsgTypeRoute,
			Payload: network.RoutePayload{
				RequestID: ev.RequestID,
				Class:     ev.Layer,
				Ready:     true,
				Route:     ev.Route,
			},
		}
	case nav.EventFieldPublished:
		msg = &network.ServerMessage{
			Type:    network.MsgTypeField,
			Payload: fieldPayload(ev.RequestID, ev.Layer, ev.Key, ev.Field),
		}
	default:
		return
	}
	for _, conn := range conns {
		conn.SendMessage(msg)
	}
	if ev.Type == nav.EventRouteUnreachable {
		s.forget(ev.RequestID)
	}

	s.prune()
}

func (s *Session) forget(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, requestID)
}

// prune drops requests older than the ttl, at most once a minute
func (s *Session) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastPrune) < time.Minute {
		return
	}
	s.lastPrune = now
	for id, waiting := range s.requests {
		for conn, at := range waiting {
			if now.Sub(at) > s.ttl {
				delete(waiting, conn)
			}
		}
		if len(waiting) == 0 {
			delete(s.requests, id)
		}
	}
}

// Status returns the current session status
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionStatus{
		ClientCount:     len(s.clients),
		PendingRequests: len(s.requests),
		Uptime:          int64(time.Since(s.CreatedAt).Seconds()),
	}
}
