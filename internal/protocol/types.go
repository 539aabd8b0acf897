// Package protocol defines the relay's control-message wire format.
//
// Every text frame is a JSON object with a "type" discriminator. Inbound
// messages decode into a closed set of variants; each variant accepts only
// the fields it declares.
package protocol

import (
	"github.com/openclaw/support-relay-go/internal/model"
)

type Type string

// Inbound
const (
	TypeRegister       Type = "client_register"
	TypeJoin           Type = "operator_join"
	TypeConnect        Type = "operator_connect"
	TypeScreenInfo     Type = "screen_info"
	TypeSettingsUpdate Type = "client_settings"
	TypeDisconnect     Type = "disconnect"

	TypeMouseMove        Type = "mouse_move"
	TypeMouseClick       Type = "mouse_click"
	TypeMouseDoubleClick Type = "mouse_double_click"
	TypeMouseScroll      Type = "mouse_scroll"
	TypeKeyPress         Type = "key_press"
	TypeKeyCombo         Type = "key_combo"
)

// Outbound
const (
	TypeRegistered           Type = "registered"
	TypeSessionsList         Type = "sessions_list"
	TypeConnectResult        Type = "connect_result"
	TypeOperatorConnected    Type = "operator_connected"
	TypeOperatorDisconnected Type = "operator_disconnected"
	TypeClientDisconnected   Type = "client_disconnected"
)

// Message is one decoded inbound control message.
type Message interface {
	MessageType() Type
}

type Register struct {
	ClientInfo model.ClientInfo
}

type Join struct{}

type Connect struct {
	Pin string
}

// InputEvent is a pointer or keyboard event from an operator. Raw holds the
// frame exactly as received and is what gets forwarded to the client.
type InputEvent struct {
	Kind   Type
	X      *float64
	Y      *float64
	Button *int
	Delta  *float64
	Key    string
	Keys   []string
	Raw    []byte
}

// ScreenInfo describes the client's display. Raw is forwarded to the operator.
type ScreenInfo struct {
	Width  int
	Height int
	Raw    []byte
}

type SettingsUpdate struct {
	Settings map[string]any
}

type Disconnect struct{}

func (Register) MessageType() Type       { return TypeRegister }
func (Join) MessageType() Type           { return TypeJoin }
func (Connect) MessageType() Type        { return TypeConnect }
func (m InputEvent) MessageType() Type   { return m.Kind }
func (ScreenInfo) MessageType() Type     { return TypeScreenInfo }
func (SettingsUpdate) MessageType() Type { return TypeSettingsUpdate }
func (Disconnect) MessageType() Type     { return TypeDisconnect }

// IsInputType reports whether t is one of the operator input event kinds.
func IsInputType(t Type) bool {
	switch t {
	case TypeMouseMove, TypeMouseClick, TypeMouseDoubleClick, TypeMouseScroll, TypeKeyPress, TypeKeyCombo:
		return true
	}
	return false
}

type Registered struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	Pin       string `json:"pin"`
}

type SessionsList struct {
	Type     Type                   `json:"type"`
	Sessions []model.SessionSummary `json:"sessions"`
}

type ConnectResult struct {
	Type       Type             `json:"type"`
	Success    bool             `json:"success"`
	SessionID  string           `json:"sessionId,omitempty"`
	ClientInfo model.ClientInfo `json:"clientInfo,omitempty"`
	Code       string           `json:"code,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Notice is a payload-free peer notification.
type Notice struct {
	Type Type `json:"type"`
}

func NewRegistered(sessionID, pin string) Registered {
	return Registered{Type: TypeRegistered, SessionID: sessionID, Pin: pin}
}

func NewSessionsList(sessions []model.SessionSummary) SessionsList {
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	return SessionsList{Type: TypeSessionsList, Sessions: sessions}
}

func NewConnectSuccess(sessionID string, info model.ClientInfo) ConnectResult {
	return ConnectResult{Type: TypeConnectResult, Success: true, SessionID: sessionID, ClientInfo: info}
}

func NewConnectFailure(code, message string) ConnectResult {
	return ConnectResult{Type: TypeConnectResult, Success: false, Code: code, Error: message}
}

func NewNotice(t Type) Notice {
	return Notice{Type: t}
}
