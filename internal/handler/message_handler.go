package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/internal/service"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/response"
)

// MessageHandler exposes the open conversation's messages
type MessageHandler struct {
	session *service.Session
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(session *service.Session) *MessageHandler {
	return &MessageHandler{session: session}
}

// EditMessageRequest represents edit message request
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest represents toggle reaction request
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ListMessages returns the open conversation's messages
func (h *MessageHandler) ListMessages(ctx context.Context, c *app.RequestContext) {
	msgs, err := h.session.Messages()
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"conversation_id": h.session.ActiveConversationId(),
		"messages":        msgs,
	})
}

// SendMessage accepts a JSON body, or a multipart form with a content field and files
func (h *MessageHandler) SendMessage(ctx context.Context, c *app.RequestContext) {
	var req service.SendRequest
	var closers []io.Closer
	defer func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}()

	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
			return
		}
		if err := bindSendForm(form, &req); err != nil {
			log.CtxInfo(ctx, "invalid send form: error=%v", err)
			response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
			return
		}
		for _, fh := range form.File["files"] {
			f, err := fh.Open()
			if err != nil {
				log.CtxWarn(ctx, "open multipart file failed: name=%s, error=%v", fh.Filename, err)
				response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
				return
			}
			closers = append(closers, f)
			req.Files = append(req.Files, localFile(fh, f))
		}
	} else if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.session.Send(ctx, &req); err != nil {
		response.Error(ctx, c, err)
		return
	}

	h.ListMessages(ctx, c)
}

// bindSendForm copies the non-file fields of a multipart send; gif is a JSON object
func bindSendForm(form *multipart.Form, req *service.SendRequest) error {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	req.Content = value("content")
	if v := value("gif"); v != "" {
		gif := &entity.Gif{}
		if err := json.Unmarshal([]byte(v), gif); err != nil {
			return fmt.Errorf("gif: %w", err)
		}
		req.Gif = gif
	}
	if v := value("reply_to_message_id"); v != "" {
		req.ReplyTo = &entity.ReplyTo{Id: v}
	}
	if v := value("ephemeral"); v != "" {
		ephemeral, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ephemeral: %w", err)
		}
		req.Ephemeral = ephemeral
	}
	return nil
}

func localFile(fh *multipart.FileHeader, f multipart.File) *entity.LocalFile {
	return &entity.LocalFile{
		Name:     fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Reader:   f,
	}
}

// LoadOlder fetches the page before the oldest loaded message
func (h *MessageHandler) LoadOlder(ctx context.Context, c *app.RequestContext) {
	n, err := h.session.LoadOlder(ctx)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"loaded": n,
	})
}

// Refetch reloads the newest page of the open conversation
func (h *MessageHandler) Refetch(ctx context.Context, c *app.RequestContext) {
	if err := h.session.Refetch(ctx); err != nil {
		response.Error(ctx, c, err)
		return
	}
	h.ListMessages(ctx, c)
}

// EditMessage handles edit message request
func (h *MessageHandler) EditMessage(ctx context.Context, c *app.RequestContext) {
	var req EditMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.session.Edit(ctx, c.Param("id"), req.Content); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// DeleteMessage handles delete message request
func (h *MessageHandler) DeleteMessage(ctx context.Context, c *app.RequestContext) {
	if err := h.session.DeleteMessage(ctx, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// MarkRead handles mark read request
func (h *MessageHandler) MarkRead(ctx context.Context, c *app.RequestContext) {
	if err := h.session.MarkRead(ctx, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// ToggleReaction adds the identity's reaction, or removes it when already present
func (h *MessageHandler) ToggleReaction(ctx context.Context, c *app.RequestContext) {
	var req ReactionRequest
	if err := c.BindAndValidate(&req); err != nil || strings.TrimSpace(req.Emoji) == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.session.ToggleReaction(ctx, c.Param("id"), req.Emoji); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}
