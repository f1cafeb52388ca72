package service

import (
	"context"
	"time"

	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/sdk"
)

// MessagingAPI is the subset of the messaging HTTP API a session uses; *sdk.Client implements it
type MessagingAPI interface {
	ListConversations(ctx context.Context) ([]*sdk.ConversationInfo, error)
	CreateConversation(ctx context.Context, req *sdk.CreateConversationRequest) (*sdk.ConversationInfo, error)
	DeleteConversation(ctx context.Context, conversationId string) error

	ListMessages(ctx context.Context, conversationId string, q *sdk.ListMessagesQuery) (*sdk.MessagePage, error)
	GetMessage(ctx context.Context, messageId string) (*sdk.MessageInfo, error)
	SendMessage(ctx context.Context, conversationId string, req *sdk.SendMessageRequest) (*sdk.MessageInfo, error)
	MarkRead(ctx context.Context, messageId string) error
	ToggleReaction(ctx context.Context, messageId, reaction string) error
	EditMessage(ctx context.Context, messageId, content string) error
	DeleteMessage(ctx context.Context, messageId string) error
}

// URLSigner issues expiring links for storage paths; *sdk.StorageClient implements it
type URLSigner interface {
	CreateSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error)
}

// URLCache stores signed urls by storage path; *repository.URLCacheRepo implements it
type URLCache interface {
	Get(ctx context.Context, path string) (string, bool, error)
	Set(ctx context.Context, path, url string, ttl time.Duration) error
}

// Realtime opens channel subscriptions; *realtime.Client implements it
type Realtime interface {
	Subscribe(ctx context.Context, topic string, cfg realtime.ChannelConfig, h realtime.Handlers) (realtime.Subscription, error)
}

// RefreshSignaler tells other clients of the open conversation to refetch
type RefreshSignaler interface {
	SignalRefresh(ctx context.Context) error
}

// DirectoryRefresher reloads the conversation list, best effort
type DirectoryRefresher interface {
	Refresh(ctx context.Context)
}

// PresenceView answers whether an identity is online
type PresenceView interface {
	IsOnline(userId string) bool
}
