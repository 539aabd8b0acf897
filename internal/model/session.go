package model

import (
	"encoding/json"
	"maps"
	"time"
)

// ClientInfo is supplied by the client agent and never interpreted by the relay.
type ClientInfo map[string]any

// Clone returns a shallow copy so callers never share the registry's map.
func (c ClientInfo) Clone() ClientInfo {
	if c == nil {
		return ClientInfo{}
	}
	return maps.Clone(c)
}

// SessionSummary is one entry of the waiting list pushed to operators.
type SessionSummary struct {
	ID         string     `json:"id"`
	Pin        string     `json:"pin"`
	ClientInfo ClientInfo `json:"clientInfo"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// SessionSnapshot is one entry of the diagnostic session table.
type SessionSnapshot struct {
	ID               string        `json:"id"`
	Pin              string        `json:"pin"`
	ClientInfo       ClientInfo    `json:"clientInfo"`
	CreatedAt        time.Time     `json:"createdAt"`
	Status           SessionStatus `json:"status"`
	OperatorAttached bool          `json:"operatorAttached"`
}

type SessionEvent struct {
	ID        string           `db:"id" json:"id"`
	Type      SessionEventType `db:"event_type" json:"type"`
	SessionID string           `db:"session_id" json:"sessionId"`
	Role      Role             `db:"role" json:"role"`
	Details   *json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

type CreateSessionEventParams struct {
	ID        string
	Type      SessionEventType
	SessionID string
	Role      Role
	Details   *json.RawMessage
	CreatedAt time.Time
}

// HubStats is a point-in-time count of relay state.
type HubStats struct {
	Connections       int `json:"connections"`
	Clients           int `json:"clients"`
	Operators         int `json:"operators"`
	Unassigned        int `json:"unassigned"`
	SessionsWaiting   int `json:"sessionsWaiting"`
	SessionsConnected int `json:"sessionsConnected"`
}
