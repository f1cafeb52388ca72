package sdk

import (
	"context"
	"net/url"
)

// ListConversations gets all conversations of the current identity
func (c *Client) ListConversations(ctx context.Context) ([]*ConversationInfo, error) {
	var result ListConversationsResponse
	if err := c.get(ctx, "/conversations", nil, &result); err != nil {
		return nil, err
	}
	return result.Conversations, nil
}

// CreateConversation creates a conversation. The API does not dedupe 1:1 conversations.
func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationInfo, error) {
	var result ConversationResponse
	if err := c.post(ctx, "/conversations", req, &result); err != nil {
		return nil, err
	}
	if result.Conversation == nil {
		return nil, NewError(0, "empty conversation in response")
	}
	return result.Conversation, nil
}

// DeleteConversation deletes a conversation
func (c *Client) DeleteConversation(ctx context.Context, conversationId string) error {
	return c.delete(ctx, "/conversations/"+url.PathEscape(conversationId))
}
