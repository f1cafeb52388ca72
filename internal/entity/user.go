package entity

// Participant represents a member of a conversation
type Participant struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// TypingIndicator is an ephemeral "someone is typing" entry
type TypingIndicator struct {
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name"`
	ConversationId string `json:"conversation_id"`
	Timestamp      int64  `json:"timestamp"`
}

// Expired reports whether the indicator is older than ttlMillis at nowMillis
func (t *TypingIndicator) Expired(nowMillis, ttlMillis int64) bool {
	return t.Timestamp < nowMillis-ttlMillis
}
