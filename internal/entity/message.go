package entity

import "io"

// Attachment represents a file attached to a message
type Attachment struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	// URL is a signed, expiring link. Empty while pending or when it could not be resolved.
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// LocalFile is a file selected for upload that has not been sent yet
type LocalFile struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// Gif references an externally hosted animation
type Gif struct {
	Id         string `json:"id"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url,omitempty"`
	Title      string `json:"title,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// ReactionGroup aggregates the reactions of one emoji on a message
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ReplyTo is the snippet of the message being replied to
type ReplyTo struct {
	Id         string `json:"id"`
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

// Message represents a message of the open conversation
type Message struct {
	Id          string           `json:"id"`
	Content     string           `json:"content"`
	SenderId    string           `json:"sender_id"`
	SenderName  string           `json:"sender_name"`
	CreatedAt   int64            `json:"created_at"`
	Attachments []*Attachment    `json:"attachments,omitempty"`
	Gif         *Gif             `json:"gif,omitempty"`
	Reactions   []*ReactionGroup `json:"reactions,omitempty"`
	ReplyTo     *ReplyTo         `json:"reply_to,omitempty"`
	IsRead      bool             `json:"is_read"`
	IsDelivered bool             `json:"is_delivered"`
	IsEdited    bool             `json:"is_edited"`
	ReadBy      []string         `json:"read_by,omitempty"`
	Optimistic  bool             `json:"optimistic"`
}

// ReactionCount returns the count for emoji, 0 when nobody reacted with it
func (m *Message) ReactionCount(emoji string) int {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return r.Count
		}
	}
	return 0
}

// MarkReadBy sets the read flag and records userId in ReadBy once
func (m *Message) MarkReadBy(userId string) {
	m.IsRead = true
	for _, id := range m.ReadBy {
		if id == userId {
			return
		}
	}
	m.ReadBy = append(m.ReadBy, userId)
}

// Clone returns a deep copy safe to hand to readers
func (m *Message) Clone() *Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = make([]*Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			ca := *a
			out.Attachments[i] = &ca
		}
	}
	if m.Gif != nil {
		g := *m.Gif
		out.Gif = &g
	}
	if m.Reactions != nil {
		out.Reactions = make([]*ReactionGroup, len(m.Reactions))
		for i, r := range m.Reactions {
			cr := *r
			cr.Users = append([]string(nil), r.Users...)
			out.Reactions[i] = &cr
		}
	}
	if m.ReplyTo != nil {
		rt := *m.ReplyTo
		out.ReplyTo = &rt
	}
	out.ReadBy = append([]string(nil), m.ReadBy...)
	return &out
}
