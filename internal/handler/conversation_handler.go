package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/ecommunity/internal/service"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/response"
)

// ConversationHandler exposes the conversation directory of a session
type ConversationHandler struct {
	session *service.Session
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(session *service.Session) *ConversationHandler {
	return &ConversationHandler{session: session}
}

// CreateConversationRequest represents create conversation request
type CreateConversationRequest struct {
	ParticipantIds []string `json:"participant_ids"`
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name"`
}

// ListConversations returns the cached directory; refresh=true refetches it first
func (h *ConversationHandler) ListConversations(ctx context.Context, c *app.RequestContext) {
	if c.Query("refresh") == "true" {
		convs, err := h.session.FetchConversations(ctx)
		if err != nil {
			response.Error(ctx, c, err)
			return
		}
		response.Success(ctx, c, convs)
		return
	}

	response.Success(ctx, c, h.session.Conversations())
}

// CreateConversation handles create conversation request
func (h *ConversationHandler) CreateConversation(ctx context.Context, c *app.RequestContext) {
	var req CreateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	conv, err := h.session.CreateConversation(ctx, req.ParticipantIds, req.IsGroup, req.Name)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, conv)
}

// OpenConversation switches the session to the conversation in the path
func (h *ConversationHandler) OpenConversation(ctx context.Context, c *app.RequestContext) {
	conversationId := c.Param("id")
	if conversationId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.session.Open(ctx, conversationId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	msgs, err := h.session.Messages()
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"conversation_id": conversationId,
		"messages":        msgs,
	})
}

// DeleteConversation handles delete conversation request
func (h *ConversationHandler) DeleteConversation(ctx context.Context, c *app.RequestContext) {
	conversationId := c.Param("id")
	if conversationId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.session.DeleteConversation(ctx, conversationId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}
