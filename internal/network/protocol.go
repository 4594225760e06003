package network

import (
	"encoding/json"

	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
)

// Message types - Client → Server
const (
	MsgTypePathRequest  = "path_request"
	MsgTypeRouteQuery   = "route_query"
	MsgTypeFieldQuery   = "field_query"
	MsgTypeCostMutation = "cost_mutation"
	MsgTypePing         = "ping"
)

// Message types - Server → Client
const (
	MsgTypePathAccepted     = "path_accepted"
	MsgTypeRoute            = "route"
	MsgTypeField            = "field"
	MsgTypeMutationAccepted = "mutation_accepted"
	MsgTypeError            = "error"
	MsgTypePong             = "pong"
)

// ClientMessage represents any message from client to server
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage represents any message from server to client
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// --- Client Message Payloads ---

// PathRequestPayload asks for a route between two cells
type PathRequestPayload struct {
	Class  string         `json:"class,omitempty"` // empty uses the client's default class
	Source graph.Endpoint `json:"source"`
	Target graph.Endpoint `json:"target"`
}

// RouteQueryPayload asks for a cached route
type RouteQueryPayload struct {
	Class  string         `json:"class,omitempty"`
	Source graph.Endpoint `json:"source"`
	Target graph.Endpoint `json:"target"`
}

// FieldQueryPayload asks for a cached flow field. Exit is zero for the
// target region of a route.
type FieldQueryPayload struct {
	Class  string         `json:"class,omitempty"`
	Region grid.RegionID  `json:"region"`
	Goal   grid.FieldCell `json:"goal"`
	Exit   grid.Ordinal   `json:"exit"`
}

// CostMutationPayload writes one cell of the cost grid
type CostMutationPayload struct {
	Region grid.RegionID  `json:"region"`
	Cell   grid.FieldCell `json:"cell"`
	Cost   uint8          `json:"cost"`
}

// --- Server Message Payloads ---

// PathAcceptedPayload confirms a queued path request
type PathAcceptedPayload struct {
	RequestID string `json:"request_id"`
}

// RoutePayload carries a route, or reports that it is not ready
type RoutePayload struct {
	RequestID string       `json:"request_id,omitempty"`
	Class     string       `json:"class"`
	Ready     bool         `json:"ready"`
	Route     *graph.Route `json:"route,omitempty"`
}

// FieldPayload carries a flow field in wire format, or reports that it is
// being built
type FieldPayload struct {
	RequestID  string         `json:"request_id,omitempty"`
	Class      string         `json:"class"`
	Region     grid.RegionID  `json:"region"`
	Goal       grid.FieldCell `json:"goal"`
	Exit       grid.Ordinal   `json:"exit"`
	Ready      bool           `json:"ready"`
	Resolution int            `json:"resolution,omitempty"`
	Cells      []byte         `json:"cells,omitempty"` // base64 in JSON, one byte per cell
}

// MutationAcceptedPayload confirms a queued cost mutation
type MutationAcceptedPayload struct {
	Region grid.RegionID  `json:"region"`
	Cell   grid.FieldCell `json:"cell"`
	Cost   uint8          `json:"cost"`
}

// PongPayload answers a ping
type PongPayload struct {
	Timestamp int64 `json:"timestamp"` // Unix timestamp
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
