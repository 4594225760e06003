package models

import "time"

// Permission bits carried in the JWT permissions claim.
const (
	// PermRequestPaths allows path requests and route or field queries.
	PermRequestPaths int64 = 1 << 0
	// PermMutateCosts allows cost mutations.
	PermMutateCosts int64 = 1 << 4
)

// Client represents an authenticated navigation client
type Client struct {
	// From JWT claims
	ID          string `json:"id"`          // Converted from int64 user_id
	Username    string `json:"username"`    // JWT claim
	Email       string `json:"email"`       // JWT claim
	Permissions int64  `json:"permissions"` // JWT claim: bitwise permission flags
	Activated   int64  `json:"activated"`   // JWT claim: activation timestamp or ban status
	AuthMethod  string `json:"auth_method"` // JWT claim: "password" or "oauth"

	// Connection state
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connected_at"`

	// Agent class used when a request does not name one
	DefaultClass string `json:"default_class,omitempty"`
}

// IsActive checks if the client account is activated and not banned
func (c *Client) IsActive() bool {
	// activated > 0 means activated
	// activated == 0 means not activated
	// activated == -1 means banned
	return c.Activated > 0
}

// IsBanned checks if the client is banned
func (c *Client) IsBanned() bool {
	return c.Activated == -1
}

// CanMutateCosts reports whether the client may edit the cost grid
func (c *Client) CanMutateCosts() bool {
	return c.Permissions&PermMutateCosts != 0
}
