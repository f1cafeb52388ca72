package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/ecommunity/internal/service"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/response"
)

// PresenceHandler exposes presence and typing state
type PresenceHandler struct {
	session *service.Session
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(session *service.Session) *PresenceHandler {
	return &PresenceHandler{session: session}
}

// TypingRequest represents set typing request
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// SetTyping starts or stops typing in the open conversation
func (h *PresenceHandler) SetTyping(ctx context.Context, c *app.RequestContext) {
	var req TypingRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	var err error
	if req.Typing {
		err = h.session.StartTyping(ctx)
	} else {
		err = h.session.StopTyping(ctx)
	}
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// GetTyping returns who else is typing in the open conversation
func (h *PresenceHandler) GetTyping(ctx context.Context, c *app.RequestContext) {
	typing, err := h.session.Typing()
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, typing)
}

// GetPresence returns the online identity ids
func (h *PresenceHandler) GetPresence(ctx context.Context, c *app.RequestContext) {
	response.Success(ctx, c, map[string]interface{}{
		"self":   h.session.Identity().Id,
		"online": h.session.Online(),
	})
}
