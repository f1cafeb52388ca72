package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// Is reports whether target carries the same code, so wrapped copies still match their base error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam    = New(1001, "invalid parameter")
	ErrInternalServer  = New(1002, "internal server error")
	ErrUnauthorized    = New(1003, "unauthorized")
	ErrForbidden       = New(1004, "forbidden")
	ErrNotFound        = New(1005, "not found")
	ErrTooManyRequests = New(1006, "too many requests")

	// Identity errors (2xxx)
	ErrTokenInvalid = New(2001, "token invalid")
	ErrTokenExpired = New(2002, "token expired")
	ErrTokenMissing = New(2003, "token missing")

	// Conversation errors (3xxx)
	ErrConvNotFound          = New(3001, "conversation not found")
	ErrNoActiveConversation  = New(3002, "no conversation is open")
	ErrConversationFetch     = New(3003, "conversation list fetch failed")
	ErrConversationCreate    = New(3004, "conversation create failed")
	ErrConversationDelete    = New(3005, "conversation delete failed")
	ErrConversationSwitching = New(3006, "conversation switched while request was in flight")

	// Message errors (4xxx)
	ErrMessageNotFound    = New(4001, "message not found")
	ErrEmptyMessage       = New(4002, "message has no content, attachments or gif")
	ErrAttachmentRejected = New(4003, "attachment rejected")
	ErrSendFailed         = New(4005, "message send failed")
	ErrPullFailed         = New(4006, "message pull failed")
	ErrEditFailed         = New(4007, "message edit failed")
	ErrDeleteFailed       = New(4008, "message delete failed")
	ErrMarkReadFailed     = New(4009, "mark read failed")
	ErrReactionFailed     = New(4010, "reaction toggle failed")

	// Realtime errors (5xxx)
	ErrChannelJoin   = New(5001, "realtime channel join failed")
	ErrConnClosed    = New(5002, "connection closed")
	ErrBroadcast     = New(5003, "realtime broadcast failed")
	ErrPresenceTrack = New(5004, "presence track failed")
)
