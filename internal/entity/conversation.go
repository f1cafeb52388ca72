package entity

// MessageSummary is the denormalized last message of a conversation
type MessageSummary struct {
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	SenderId  string `json:"sender_id"`
}

// Conversation represents a conversation visible to the signed-in identity
type Conversation struct {
	Id           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	IsGroup      bool            `json:"is_group"`
	Participants []*Participant  `json:"participants"`
	LastMessage  *MessageSummary `json:"last_message,omitempty"`
	UnreadCount  int             `json:"unread_count"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
}

// HasParticipant reports whether userId is a member
func (c *Conversation) HasParticipant(userId string) bool {
	for _, p := range c.Participants {
		if p.Id == userId {
			return true
		}
	}
	return false
}

// IsDirectWith reports whether c is the 1:1 conversation between selfId and peerId
func (c *Conversation) IsDirectWith(selfId, peerId string) bool {
	if c.IsGroup || len(c.Participants) != 2 {
		return false
	}
	if selfId == peerId {
		return false
	}
	return c.HasParticipant(selfId) && c.HasParticipant(peerId)
}

// Clone returns a deep copy safe to hand to readers
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Participants = make([]*Participant, len(c.Participants))
	for i, p := range c.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}
