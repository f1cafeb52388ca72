package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Multipart field names of the send endpoint
const (
	FormContent          = "content"
	FormAttachments      = "attachments"
	FormReplyToMessageId = "replyToMessageId"
	FormGif              = "gif"
	FormEphemeral        = "ephemeral"
)

// ListMessages gets one page of messages of a conversation
func (c *Client) ListMessages(ctx context.Context, conversationId string, q *ListMessagesQuery) (*MessagePage, error) {
	params := url.Values{}
	if q != nil {
		if q.Cursor != "" {
			params.Set("cursor", q.Cursor)
		}
		if q.Direction != "" {
			params.Set("direction", q.Direction)
		}
		if q.Limit > 0 {
			params.Set("limit", strconv.Itoa(q.Limit))
		}
	}

	var result MessagePage
	if err := c.get(ctx, "/conversations/"+url.PathEscape(conversationId)+"/messages", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMessage gets a single message with attachments, reactions, reply target and sender
func (c *Client) GetMessage(ctx context.Context, messageId string) (*MessageInfo, error) {
	var result MessageResponse
	if err := c.get(ctx, "/messages/"+url.PathEscape(messageId), nil, &result); err != nil {
		return nil, err
	}
	if result.Message == nil {
		return nil, NewError(0, "empty message in response")
	}
	return result.Message, nil
}

// SendMessage posts a message as multipart form data
func (c *Client) SendMessage(ctx context.Context, conversationId string, req *SendMessageRequest) (*MessageInfo, error) {
	httpReq := c.newRequest(consts.MethodPost, "/conversations/"+url.PathEscape(conversationId)+"/messages", nil)

	form := map[string]string{FormContent: req.Content}
	if req.ReplyToMessageId != "" {
		form[FormReplyToMessageId] = req.ReplyToMessageId
	}
	if req.Gif != nil {
		gif, err := json.Marshal(req.Gif)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal gif: %w", err)
		}
		form[FormGif] = string(gif)
	}
	if req.Ephemeral {
		form[FormEphemeral] = "true"
	}
	httpReq.SetMultipartFormData(form)

	for _, f := range req.Files {
		httpReq.SetMultipartFields(&protocol.MultipartField{
			Param:       FormAttachments,
			FileName:    f.Name,
			ContentType: f.ContentType,
			Reader:      f.Reader,
		})
	}

	var result MessageResponse
	if err := c.do(ctx, httpReq, &result); err != nil {
		return nil, err
	}
	return result.Message, nil
}

// MarkRead marks a message as read by the current identity
func (c *Client) MarkRead(ctx context.Context, messageId string) error {
	return c.post(ctx, "/messages/"+url.PathEscape(messageId)+"/read", nil, nil)
}

// ToggleReaction adds the reaction, or removes it when already present
func (c *Client) ToggleReaction(ctx context.Context, messageId, reaction string) error {
	return c.post(ctx, "/messages/"+url.PathEscape(messageId)+"/reactions", &ReactionRequest{Reaction: reaction}, nil)
}

// EditMessage replaces the body of a message
func (c *Client) EditMessage(ctx context.Context, messageId, content string) error {
	return c.put(ctx, "/messages/"+url.PathEscape(messageId), &EditMessageRequest{Content: content}, nil)
}

// DeleteMessage deletes a message
func (c *Client) DeleteMessage(ctx context.Context, messageId string) error {
	return c.delete(ctx, "/messages/"+url.PathEscape(messageId))
}
