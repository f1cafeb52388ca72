package realtime

import "errors"

// Realtime errors
var (
	ErrConnClosed       = errors.New("connection closed")
	ErrWriteChannelFull = errors.New("write channel full")
	ErrNotConnected     = errors.New("not connected")
	ErrClientClosed     = errors.New("realtime client closed")
	ErrJoinTimeout      = errors.New("reply timeout")
	ErrJoinRejected     = errors.New("join rejected")
	ErrChannelNotJoined = errors.New("channel not joined")
	ErrChannelError     = errors.New("channel error")
	ErrDuplicateTopic   = errors.New("topic already subscribed")
	ErrPanic            = errors.New("panic error")
)
