package sdk

import (
	"io"
	"time"
)

// UserInfo is the joined user record embedded in conversations and messages
type UserInfo struct {
	Id       string     `json:"id"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// MessageSummaryInfo is the last message preview of a conversation
type MessageSummaryInfo struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	SenderId  string    `json:"senderId"`
}

// ConversationInfo represents a conversation
type ConversationInfo struct {
	Id           string              `json:"id"`
	Name         string              `json:"name,omitempty"`
	IsGroup      bool                `json:"isGroup"`
	Participants []*UserInfo         `json:"participants"`
	LastMessage  *MessageSummaryInfo `json:"lastMessage,omitempty"`
	UnreadCount  int                 `json:"unreadCount"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// ListConversationsResponse is the response of GET /conversations
type ListConversationsResponse struct {
	Conversations []*ConversationInfo `json:"conversations"`
}

// CreateConversationRequest is the request of POST /conversations
type CreateConversationRequest struct {
	ParticipantIds []string `json:"participantIds"`
	IsGroup        bool     `json:"isGroup"`
	Name           string   `json:"name,omitempty"`
}

// ConversationResponse wraps a single conversation
type ConversationResponse struct {
	Conversation *ConversationInfo `json:"conversation"`
}

// AttachmentInfo is an uploaded file; URL is usually empty and must be signed from FilePath
type AttachmentInfo struct {
	Id       string `json:"id"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	FilePath string `json:"filePath,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ReactionInfo is a single reaction row
type ReactionInfo struct {
	Reaction string    `json:"reaction"`
	UserId   string    `json:"userId"`
	User     *UserInfo `json:"user,omitempty"`
}

// ReplyInfo is the message a reply points to
type ReplyInfo struct {
	Id      string    `json:"id"`
	Content string    `json:"content"`
	Sender  *UserInfo `json:"sender,omitempty"`
}

// GifInfo is a gif picked from the gif provider
type GifInfo struct {
	Id         string `json:"id"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl,omitempty"`
	Title      string `json:"title,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// MessageInfo represents a message with its joined records
type MessageInfo struct {
	Id             string            `json:"id"`
	ConversationId string            `json:"conversationId"`
	Content        string            `json:"content"`
	SenderId       string            `json:"senderId"`
	Sender         *UserInfo         `json:"sender,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	IsEdited       bool              `json:"isEdited"`
	IsRead         bool              `json:"isRead"`
	IsDelivered    bool              `json:"isDelivered"`
	ReadBy         []string          `json:"readBy,omitempty"`
	Attachments    []*AttachmentInfo `json:"attachments,omitempty"`
	Reactions      []*ReactionInfo   `json:"reactions,omitempty"`
	ReplyTo        *ReplyInfo        `json:"replyTo,omitempty"`
	Gif            *GifInfo          `json:"gif,omitempty"`
}

// MessageResponse wraps a single message
type MessageResponse struct {
	Message *MessageInfo `json:"message"`
}

// ListMessagesQuery holds the optional paging parameters
type ListMessagesQuery struct {
	Cursor    string
	Direction string
	Limit     int
}

// MessagePage is one page of messages
type MessagePage struct {
	Messages   []*MessageInfo `json:"messages"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// File is a raw attachment uploaded with a message
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// SendMessageRequest is the multipart body of POST /conversations/{id}/messages
type SendMessageRequest struct {
	Content          string
	ReplyToMessageId string
	Gif              *GifInfo
	Ephemeral        bool
	Files            []*File
}

// ReactionRequest is the request of POST /messages/{id}/reactions
type ReactionRequest struct {
	Reaction string `json:"reaction"`
}

// EditMessageRequest is the request of PUT /messages/{id}
type EditMessageRequest struct {
	Content string `json:"content"`
}

// SignURLRequest is the storage signing request
type SignURLRequest struct {
	ExpiresIn int64 `json:"expiresIn"`
}

// SignURLResponse is the storage signing response
type SignURLResponse struct {
	SignedURL string `json:"signedURL"`
}
