package model

type SessionStatus string

const (
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusConnected SessionStatus = "connected"
)

type Role string

const (
	RoleUnassigned Role = ""
	RoleClient     Role = "client"
	RoleOperator   Role = "operator"
)

type SessionEventType string

const (
	EventSessionCreated   SessionEventType = "session_created"
	EventOperatorAttached SessionEventType = "operator_attached"
	EventOperatorDetached SessionEventType = "operator_detached"
	EventSessionRemoved   SessionEventType = "session_removed"
	EventPairingFailed    SessionEventType = "pairing_failed"
	EventSettingsUpdated  SessionEventType = "settings_updated"
)
