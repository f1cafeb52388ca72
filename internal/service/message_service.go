package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/internal/metrics"
	"github.com/mbeoliero/ecommunity/pkg/constant"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/identity"
	"github.com/mbeoliero/ecommunity/pkg/idgen"
	"github.com/mbeoliero/ecommunity/sdk"
)

// SendRequest is a message composed by the user. At least one of Content, Files or Gif is required.
type SendRequest struct {
	Content   string              `json:"content"`
	Files     []*entity.LocalFile `json:"-"`
	Gif       *entity.Gif         `json:"gif,omitempty"`
	ReplyTo   *entity.ReplyTo     `json:"reply_to,omitempty"`
	Ephemeral bool                `json:"ephemeral"`
}

// IsEmpty reports whether the request carries nothing to send
func (r *SendRequest) IsEmpty() bool {
	return strings.TrimSpace(r.Content) == "" && len(r.Files) == 0 && r.Gif == nil
}

// MessageServiceOptions are the collaborators of a MessageService
type MessageServiceOptions struct {
	Self      *identity.Identity
	Resolver  *AttachmentResolver
	Validator *AttachmentValidator
	TempIds   *idgen.TempIdGenerator
	PageSize  int
	Metrics   *metrics.Recorder
	Directory DirectoryRefresher
	Notify    func()
	Now       func() time.Time
}

// MessageService owns the message store of one open conversation and its send pipeline
type MessageService struct {
	conversationId string
	api            MessagingAPI
	store          *MessageStore
	opts           MessageServiceOptions
	refresher      RefreshSignaler

	// closed discards responses that complete after the conversation was closed
	closed atomic.Bool

	pageMu      sync.Mutex
	nextCursor  string
	hasMore     bool
	olderLoaded bool
}

// NewMessageService creates a MessageService
func NewMessageService(conversationId string, api MessagingAPI, opts MessageServiceOptions) *MessageService {
	if opts.TempIds == nil {
		opts.TempIds = idgen.NewTempIdGenerator(opts.Now)
	}
	if opts.Validator == nil {
		opts.Validator = NewAttachmentValidator(AttachmentPolicy{})
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Notify == nil {
		opts.Notify = func() {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MessageService{
		conversationId: conversationId,
		api:            api,
		store:          NewMessageStore(conversationId),
		opts:           opts,
	}
}

// SetRefreshSignaler sets the refresh broadcaster
func (s *MessageService) SetRefreshSignaler(refresher RefreshSignaler) {
	s.refresher = refresher
}

func (s *MessageService) ConversationId() string {
	return s.conversationId
}

// Messages returns the store snapshot ordered by creation time
func (s *MessageService) Messages() []*entity.Message {
	return s.store.Snapshot()
}

// HasMore reports whether older pages remain on the server
func (s *MessageService) HasMore() bool {
	s.pageMu.Lock()
	defer s.pageMu.Unlock()
	return s.hasMore
}

// Close marks the conversation closed; in-flight responses are discarded
func (s *MessageService) Close() {
	s.closed.Store(true)
}

func (s *MessageService) isClosed() bool {
	return s.closed.Load()
}

func (s *MessageService) refreshDirectory(ctx context.Context) {
	if s.opts.Directory != nil && !s.isClosed() {
		s.opts.Directory.Refresh(ctx)
	}
}

func (s *MessageService) toMessages(ctx context.Context, infos []*sdk.MessageInfo) []*entity.Message {
	msgs := make([]*entity.Message, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			msgs = append(msgs, toMessage(ctx, info, s.opts.Resolver))
		}
	}
	return msgs
}

// Send runs the optimistic send pipeline
func (s *MessageService) Send(ctx context.Context, req *SendRequest) error {
	if req == nil || req.IsEmpty() {
		s.opts.Metrics.Send(metrics.ResultRejected)
		return errcode.ErrEmptyMessage
	}
	if err := s.opts.Validator.Validate(req.Files); err != nil {
		s.opts.Metrics.Send(metrics.ResultRejected)
		log.CtxInfo(ctx, "send rejected: conversation_id=%s, error=%v", s.conversationId, err)
		return err
	}
	if s.isClosed() {
		return errcode.ErrConversationSwitching
	}

	tempId, _ := s.opts.TempIds.NextID()
	optimistic := &entity.Message{
		Id:         tempId,
		Content:    req.Content,
		SenderId:   s.opts.Self.Id,
		SenderName: s.opts.Self.DisplayName(),
		CreatedAt:  s.opts.Now().UnixMilli(),
		Gif:        req.Gif,
		ReplyTo:    req.ReplyTo,
		Optimistic: true,
	}
	for _, f := range req.Files {
		optimistic.Attachments = append(optimistic.Attachments, &entity.Attachment{
			Name:     f.Name,
			MimeType: f.MimeType,
			Size:     f.Size,
		})
	}
	s.store.Insert(optimistic)
	s.opts.Notify()

	sendReq := &sdk.SendMessageRequest{
		Content:   req.Content,
		Gif:       toSDKGif(req.Gif),
		Ephemeral: req.Ephemeral,
		Files:     toSDKFiles(req.Files),
	}
	if req.ReplyTo != nil {
		sendReq.ReplyToMessageId = req.ReplyTo.Id
	}

	_, err := s.api.SendMessage(ctx, s.conversationId, sendReq)
	s.store.Remove(tempId)
	s.opts.Notify()

	if err != nil {
		s.opts.Metrics.Send(metrics.ResultFailure)
		s.opts.Metrics.Rollback()
		log.CtxError(ctx, "send message failed: conversation_id=%s, temp_id=%s, error=%v", s.conversationId, tempId, err)
		return errcode.ErrSendFailed.Wrap(err)
	}
	s.opts.Metrics.Send(metrics.ResultSuccess)
	log.CtxInfo(ctx, "message sent: conversation_id=%s, temp_id=%s", s.conversationId, tempId)

	if s.isClosed() {
		return nil
	}

	_ = s.Refetch(ctx, constant.RefetchSend)

	if s.refresher != nil {
		if err := s.refresher.SignalRefresh(ctx); err != nil {
			log.CtxWarn(ctx, "refresh broadcast failed: conversation_id=%s, error=%v", s.conversationId, err)
		}
	}
	s.refreshDirectory(ctx)
	return nil
}

// Refetch replaces the store with the newest page. A failure keeps the current messages.
func (s *MessageService) Refetch(ctx context.Context, reason string) error {
	page, err := s.api.ListMessages(ctx, s.conversationId, &sdk.ListMessagesQuery{
		Direction: constant.DirectionBackward,
		Limit:     s.opts.PageSize,
	})
	if err != nil {
		log.CtxError(ctx, "fetch messages failed: conversation_id=%s, reason=%s, error=%v", s.conversationId, reason, err)
		return errcode.ErrPullFailed.Wrap(err)
	}

	msgs := s.toMessages(ctx, page.Messages)
	if s.isClosed() {
		log.CtxDebug(ctx, "discarding stale fetch: conversation_id=%s, reason=%s", s.conversationId, reason)
		return nil
	}

	s.store.Replace(msgs)
	s.pageMu.Lock()
	if !s.olderLoaded {
		s.nextCursor = page.NextCursor
		s.hasMore = page.HasMore
	}
	s.pageMu.Unlock()

	s.opts.Metrics.Refetch(reason)
	s.opts.Notify()
	log.CtxDebug(ctx, "messages fetched: conversation_id=%s, reason=%s, count=%d", s.conversationId, reason, len(msgs))
	return nil
}

// LoadOlder prepends the page before the oldest loaded one; returns how many messages were added
func (s *MessageService) LoadOlder(ctx context.Context) (int, error) {
	s.pageMu.Lock()
	cursor, hasMore := s.nextCursor, s.hasMore
	s.pageMu.Unlock()

	if !hasMore {
		return 0, nil
	}

	page, err := s.api.ListMessages(ctx, s.conversationId, &sdk.ListMessagesQuery{
		Cursor:    cursor,
		Direction: constant.DirectionBackward,
		Limit:     s.opts.PageSize,
	})
	if err != nil {
		log.CtxError(ctx, "fetch older messages failed: conversation_id=%s, cursor=%s, error=%v", s.conversationId, cursor, err)
		return 0, errcode.ErrPullFailed.Wrap(err)
	}

	msgs := s.toMessages(ctx, page.Messages)
	if s.isClosed() {
		return 0, nil
	}

	added := s.store.Prepend(msgs)
	s.pageMu.Lock()
	s.nextCursor = page.NextCursor
	s.hasMore = page.HasMore
	s.olderLoaded = true
	s.pageMu.Unlock()

	if added > 0 {
		s.opts.Notify()
	}
	return added, nil
}

func checkTarget(messageId string) error {
	if messageId == "" || idgen.IsTempId(messageId) {
		return errcode.ErrInvalidParam
	}
	return nil
}

// Edit replaces the body of a confirmed message once the server accepts it
func (s *MessageService) Edit(ctx context.Context, messageId, content string) error {
	if err := checkTarget(messageId); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return errcode.ErrEmptyMessage
	}

	if err := s.api.EditMessage(ctx, messageId, content); err != nil {
		log.CtxError(ctx, "edit message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrEditFailed.Wrap(err)
	}
	if s.isClosed() {
		return nil
	}

	if s.store.Update(messageId, func(m *entity.Message) {
		m.Content = content
		m.IsEdited = true
	}) {
		s.opts.Notify()
	}
	return nil
}

// Delete removes a message once the server accepts it
func (s *MessageService) Delete(ctx context.Context, messageId string) error {
	if err := checkTarget(messageId); err != nil {
		return err
	}

	if err := s.api.DeleteMessage(ctx, messageId); err != nil {
		log.CtxError(ctx, "delete message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrDeleteFailed.Wrap(err)
	}
	if s.isClosed() {
		return nil
	}

	if s.store.Remove(messageId) {
		s.opts.Notify()
	}
	s.refreshDirectory(ctx)
	return nil
}

// MarkRead marks a message read by the signed-in identity
func (s *MessageService) MarkRead(ctx context.Context, messageId string) error {
	if err := checkTarget(messageId); err != nil {
		return err
	}

	if err := s.api.MarkRead(ctx, messageId); err != nil {
		log.CtxError(ctx, "mark read failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrMarkReadFailed.Wrap(err)
	}
	if s.isClosed() {
		return nil
	}

	selfId := s.opts.Self.Id
	if s.store.Update(messageId, func(m *entity.Message) { m.MarkReadBy(selfId) }) {
		s.opts.Notify()
	}
	s.refreshDirectory(ctx)
	return nil
}

// ToggleReaction adds or removes the identity's reaction, then refetches for the aggregated counts
func (s *MessageService) ToggleReaction(ctx context.Context, messageId, emoji string) error {
	if err := checkTarget(messageId); err != nil {
		return err
	}
	if strings.TrimSpace(emoji) == "" {
		return errcode.ErrInvalidParam
	}

	apiErr := s.api.ToggleReaction(ctx, messageId, emoji)
	if apiErr != nil {
		log.CtxError(ctx, "toggle reaction failed: message_id=%s, emoji=%s, error=%v", messageId, emoji, apiErr)
	}

	if !s.isClosed() {
		_ = s.Refetch(ctx, constant.RefetchReaction)
		s.refreshDirectory(ctx)
	}

	if apiErr != nil {
		return errcode.ErrReactionFailed.Wrap(apiErr)
	}
	return nil
}

// InsertRemote resolves a message announced by the change feed and inserts it once.
// A resolve failure falls back to a full refetch.
func (s *MessageService) InsertRemote(ctx context.Context, messageId string) {
	if s.store.Has(messageId) {
		s.opts.Metrics.DedupDiscard()
		return
	}

	info, err := s.api.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxWarn(ctx, "resolve inserted message failed, refetching: message_id=%s, error=%v", messageId, err)
		_ = s.Refetch(ctx, constant.RefetchResolve)
		return
	}

	msg := toMessage(ctx, info, s.opts.Resolver)
	if s.isClosed() {
		return
	}
	if !s.store.Insert(msg) {
		s.opts.Metrics.DedupDiscard()
		return
	}
	s.opts.Notify()
	s.refreshDirectory(ctx)
}

// ApplyRemoteUpdate patches body and edited flag
func (s *MessageService) ApplyRemoteUpdate(messageId, content string, edited bool) {
	if s.isClosed() {
		return
	}
	if s.store.Update(messageId, func(m *entity.Message) {
		m.Content = content
		m.IsEdited = edited
	}) {
		s.opts.Notify()
	}
}

// ApplyRemoteDelete removes the message
func (s *MessageService) ApplyRemoteDelete(messageId string) {
	if s.isClosed() {
		return
	}
	if s.store.Remove(messageId) {
		s.opts.Notify()
	}
}
