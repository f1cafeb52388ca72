package realtime

import "time"

// Channel protocol events
const (
	EventJoin            = "phx_join"
	EventReply           = "phx_reply"
	EventLeave           = "phx_leave"
	EventClose           = "phx_close"
	EventError           = "phx_error"
	EventHeartbeat       = "heartbeat"
	EventAccessToken     = "access_token"
	EventBroadcast       = "broadcast"
	EventPresence        = "presence"
	EventPresenceState   = "presence_state"
	EventPresenceDiff    = "presence_diff"
	EventPostgresChanges = "postgres_changes"
	EventSystem          = "system"
)

// Topics
const (
	TopicPhoenix = "phoenix"
	TopicPrefix  = "realtime:"
)

// ProtocolVersion is sent as the vsn query parameter
const ProtocolVersion = "1.0.0"

// Reply statuses
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Timeout constants
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// HeartbeatInterval is the period between application heartbeats.
	// A heartbeat still unanswered when the next one is due closes the connection.
	HeartbeatInterval = 25 * time.Second

	// JoinTimeout bounds every request awaiting a phx_reply
	JoinTimeout = 10 * time.Second

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 1 << 20

	// EventBufferSize is the per-channel queue of undelivered events
	EventBufferSize = 256

	// WriteChannelSize is the outgoing frame queue of a connection
	WriteChannelSize = 256
)

// DefaultReconnectBackoff is the delay schedule between reconnect attempts; the last value repeats
var DefaultReconnectBackoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// Status is a channel lifecycle state reported to Handlers.OnStatus
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusClosed       Status = "CLOSED"
)

// ChangeType is the row operation of a change event
type ChangeType string

const (
	ChangeAll    ChangeType = "*"
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)
