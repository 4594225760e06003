package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/nav"
	"github.com/gravitas-games/flowfield/internal/network"
	"github.com/gravitas-games/flowfield/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	ws     *websocket.Conn
	server *Server
	logger *zap.Logger

	// Client information (set after authentication)
	client *models.Client

	// Buffered channel for outbound messages
	send chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewConnection creates a new connection for an authenticated client
func NewConnection(ws *websocket.Conn, server *Server, client *models.Client) *Connection {
	return &Connection{
		ws:     ws,
		server: server,
		logger: server.logger.With(zap.String("client", client.ID)),
		client: client,
		send:   make(chan []byte, 256),
	}
}

// Handle manages the connection lifecycle
func (c *Connection) Handle() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump()
	c.readPump() // Blocking
}

// readPump pumps messages from the WebSocket connection to the server
func (c *Connection) readPump() {
	defer c.Close()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var clientMsg network.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Debug("Failed to parse client message", zap.Error(err))
			c.SendError("invalid_message", "Failed to parse message")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.server.ctx.Done():
			return
		}
	}
}

// handleMessage routes messages to appropriate handlers
func (c *Connection) handleMessage(msg *network.ClientMessage) {
	c.logger.Debug("Received message", zap.String("type", msg.Type))

	switch msg.Type {
	case network.MsgTypePathRequest:
		c.handlePathRequest(msg.Payload)

	case network.MsgTypeRouteQuery:
		c.handleRouteQuery(msg.Payload)

	case network.MsgTypeFieldQuery:
		c.handleFieldQuery(msg.Payload)

	case network.MsgTypeCostMutation:
		c.handleCostMutation(msg.Payload)

	case network.MsgTypePing:
		c.handlePing()

	default:
		c.SendError("unknown_message_type", "Unknown message type")
	}
}

// class resolves the agent class of a request
func (c *Connection) class(requested string) string {
	if requested != "" {
		return requested
	}
	if c.client.DefaultClass != "" {
		return c.client.DefaultClass
	}
	return c.server.engine.Classes()[0]
}

func (c *Connection) handlePathRequest(payload json.RawMessage) {
	var req network.PathRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError("invalid_payload", "Invalid path request")
		return
	}

	// tracked before the engine can plan it, so no route push is missed
	id, err := c.server.engine.RequestPath(nav.PathRequest{
		Class:  c.class(req.Class),
		Source: req.Source,
		Target: req.Target,
		Accept: func(id string) { c.server.session.Track(id, c) },
	})
	if err != nil {
		c.SendError(errorCode(err), err.Error())
		return
	}

	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypePathAccepted,
		Payload: network.PathAcceptedPayload{RequestID: id},
	})
}

func (c *Connection) handleRouteQuery(payload json.RawMessage) {
	var q network.RouteQueryPayload
	if err := json.Unmarshal(payload, &q); err != nil {
		c.SendError("invalid_payload", "Invalid route query")
		return
	}

	class := c.class(q.Class)
	route, ok, err := c.server.engine.Route(class, q.Source, q.Target)
	if err != nil {
		c.SendError(errorCode(err), err.Error())
		return
	}
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeRoute,
		Payload: network.RoutePayload{Class: class, Ready: ok, Route: route},
	})
}

func (c *Connection) handleFieldQuery(payload json.RawMessage) {
	var q network.FieldQueryPayload
	if err := json.Unmarshal(payload, &q); err != nil {
		c.SendError("invalid_payload", "Invalid field query")
		return
	}

	class := c.class(q.Class)
	key := cache.FieldKey{Region: q.Region, Goal: q.Goal, Exit: q.Exit}
	f, _, err := c.server.engine.Field(class, key)
	if err != nil {
		c.SendError(errorCode(err), err.Error())
		return
	}
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeField,
		Payload: fieldPayload("", class, key, f),
	})
}

func (c *Connection) handleCostMutation(payload json.RawMessage) {
	if !c.client.CanMutateCosts() {
		c.SendError("forbidden", "Cost mutation requires permission")
		return
	}

	var m network.CostMutationPayload
	if err := json.Unmarshal(payload, &m); err != nil {
		c.SendError("invalid_payload", "Invalid cost mutation")
		return
	}
	if err := c.server.engine.SetCost(m.Region, m.Cell, m.Cost); err != nil {
		c.SendError(errorCode(err), err.Error())
		return
	}

	c.logger.Info("Cost mutation queued",
		zap.Stringer("region", m.Region),
		zap.Stringer("cell", m.Cell),
		zap.Uint8("cost", m.Cost))
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeMutationAccepted,
		Payload: network.MutationAcceptedPayload(m),
	})
}

func (c *Connection) handlePing() {
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypePong,
		Payload: network.PongPayload{Timestamp: time.Now().Unix()},
	})
}

// fieldPayload reports f in wire format, or a pending build when f is nil
func fieldPayload(requestID, class string, key cache.FieldKey, f *field.FlowField) network.FieldPayload {
	p := network.FieldPayload{
		RequestID: requestID,
		Class:     class,
		Region:    key.Region,
		Goal:      key.Goal,
		Exit:      key.Exit,
	}
	if f != nil {
		p.Ready = true
		p.Resolution = f.Resolution()
		p.Cells = f.Bytes()
	}
	return p
}

// errorCode maps pipeline errors onto protocol error codes
func errorCode(err error) string {
	switch {
	case errors.Is(err, nav.ErrUnknownAgentClass):
		return "unknown_class"
	case errors.Is(err, nav.ErrImpassableGoal):
		return "impassable_goal"
	case errors.Is(err, nav.ErrNoPortal):
		return "no_portal"
	case errors.Is(err, grid.ErrRegionOutOfBounds), errors.Is(err, grid.ErrCellOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, grid.ErrInvalidCost):
		return "invalid_cost"
	default:
		return "invalid_request"
	}
}

// SendMessage queues a message for the client. Messages to a closed
// connection are dropped.
func (c *Connection) SendMessage(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// SendError sends an error message to the client
func (c *Connection) SendError(code, message string) {
	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeError,
		Payload: network.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.server.session.RemoveClient(c)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.ws.Close()
	})
}
