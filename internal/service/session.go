package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/config"
	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/internal/metrics"
	"github.com/mbeoliero/ecommunity/pkg/constant"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/identity"
	"github.com/mbeoliero/ecommunity/pkg/idgen"
)

// Options configures a Session
type Options struct {
	Identity   *identity.Identity
	InstanceId string

	PageSize          int
	ReconcileInterval time.Duration
	Typing            TypingOptions
	Attachments       AttachmentPolicy

	SignedURLExpiry time.Duration
	URLCacheTTL     time.Duration
	// URLCache is optional; leave nil to sign every url
	URLCache URLCache

	Metrics *metrics.Recorder
	Now     func() time.Time
}

// OptionsFromConfig maps the messaging and storage sections onto Options
func OptionsFromConfig(cfg *config.Config, self *identity.Identity) Options {
	return Options{
		Identity:          self,
		PageSize:          cfg.Messaging.PageSize,
		ReconcileInterval: cfg.Messaging.ReconcileInterval,
		Typing: TypingOptions{
			TTL:           cfg.Messaging.TypingTTL,
			SweepInterval: cfg.Messaging.TypingSweepInterval,
			Throttle:      cfg.Messaging.TypingThrottle,
		},
		Attachments: AttachmentPolicy{
			MaxSize:          cfg.Messaging.MaxAttachmentSize,
			MaxCount:         cfg.Messaging.MaxAttachments,
			AllowedMimeTypes: cfg.Messaging.AllowedMimeTypes,
		},
		SignedURLExpiry: cfg.Storage.SignedURLExpiry,
		URLCacheTTL:     cfg.Storage.CacheTTL,
	}
}

// openConversation is everything scoped to the selected conversation
type openConversation struct {
	id         string
	messages   *MessageService
	bridge     *EventBridge
	typing     *TypingService
	reconciler *Reconciler
}

// Session orchestrates one identity's messaging: directory, presence and the open conversation.
// The role only selects the API route prefix.
type Session struct {
	api       MessagingAPI
	rt        Realtime
	opts      Options
	resolver  *AttachmentResolver
	validator *AttachmentValidator
	tempIds   *idgen.TempIdGenerator

	directory *ConversationService
	presence  *PresenceTracker
	updates   chan struct{}

	// switchMu serializes Open and CloseConversation; mu guards active
	switchMu sync.Mutex
	mu       sync.RWMutex
	active   *openConversation
}

// NewSession creates a Session
func NewSession(api MessagingAPI, rt Realtime, signer URLSigner, opts Options) (*Session, error) {
	if err := opts.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session identity: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SignedURLExpiry <= 0 {
		opts.SignedURLExpiry = constant.SignedURLExpiry
	}
	if opts.Typing.Now == nil {
		opts.Typing.Now = opts.Now
	}

	s := &Session{
		api:       api,
		rt:        rt,
		opts:      opts,
		resolver:  NewAttachmentResolver(signer, opts.URLCache, opts.SignedURLExpiry, opts.URLCacheTTL),
		validator: NewAttachmentValidator(opts.Attachments),
		tempIds:   idgen.NewTempIdGenerator(opts.Now),
		updates:   make(chan struct{}, 1),
	}
	s.presence = NewPresenceTracker(rt, opts.Identity, opts.InstanceId, opts.Metrics, s.notify, opts.Now)
	s.directory = NewConversationService(api, opts.Identity, s.presence, s.notify)
	return s, nil
}

// Updates delivers a coalesced signal whenever any snapshot may have changed
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Identity returns the identity the session acts for
func (s *Session) Identity() *identity.Identity {
	return s.opts.Identity
}

// Start joins presence and loads the directory. A presence failure is logged, not returned.
func (s *Session) Start(ctx context.Context) error {
	if err := s.presence.Start(ctx); err != nil {
		log.CtxWarn(ctx, "presence unavailable: user_id=%s, error=%v", s.opts.Identity.Id, err)
	}
	if _, err := s.directory.Fetch(ctx); err != nil {
		return err
	}
	log.CtxInfo(ctx, "session started: user_id=%s, role=%s", s.opts.Identity.Id, s.opts.Identity.Role)
	return nil
}

// Open selects a conversation: the previous one is torn down, then the new one is
// subscribed, fetched and reconciled.
func (s *Session) Open(ctx context.Context, conversationId string) error {
	if conversationId == "" {
		return errcode.ErrInvalidParam
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.teardown(ctx)

	messages := NewMessageService(conversationId, s.api, MessageServiceOptions{
		Self:      s.opts.Identity,
		Resolver:  s.resolver,
		Validator: s.validator,
		TempIds:   s.tempIds,
		PageSize:  s.opts.PageSize,
		Metrics:   s.opts.Metrics,
		Directory: s.directory,
		Notify:    s.notify,
		Now:       s.opts.Now,
	})
	conv := &openConversation{
		id:         conversationId,
		messages:   messages,
		bridge:     NewEventBridge(s.rt, messages, s.opts.Metrics),
		typing:     NewTypingService(s.rt, conversationId, s.opts.Identity, s.opts.Typing, s.opts.Metrics, s.notify),
		reconciler: NewReconciler(s.opts.ReconcileInterval, messages),
	}
	messages.SetRefreshSignaler(conv.bridge)

	s.mu.Lock()
	s.active = conv
	s.mu.Unlock()

	// subscribe before the first fetch so no insert falls between them
	if err := conv.bridge.Attach(ctx); err != nil {
		log.CtxWarn(ctx, "event bridge unavailable, relying on reconciliation: conversation_id=%s, error=%v", conversationId, err)
	}
	if err := conv.typing.Attach(ctx); err != nil {
		log.CtxWarn(ctx, "typing channel unavailable: conversation_id=%s, error=%v", conversationId, err)
	}

	err := messages.Refetch(ctx, constant.RefetchOpen)
	conv.reconciler.Start()
	s.notify()

	log.CtxInfo(ctx, "conversation opened: conversation_id=%s", conversationId)
	return err
}

// CloseConversation tears down the open conversation, if any
func (s *Session) CloseConversation(ctx context.Context) {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	s.teardown(ctx)
	s.notify()
}

func (s *Session) teardown(ctx context.Context) {
	s.mu.Lock()
	conv := s.active
	s.active = nil
	s.mu.Unlock()

	if conv == nil {
		return
	}

	conv.messages.Close()
	conv.reconciler.Stop()
	conv.typing.Detach(ctx)
	conv.bridge.Detach(ctx)
	log.CtxInfo(ctx, "conversation closed: conversation_id=%s", conv.id)
}

// Close releases everything the session holds
func (s *Session) Close(ctx context.Context) {
	s.CloseConversation(ctx)
	s.presence.Stop(ctx)
}

func (s *Session) current() (*openConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, errcode.ErrNoActiveConversation
	}
	return s.active, nil
}

// ActiveConversationId returns the open conversation id, empty when none is open
func (s *Session) ActiveConversationId() string {
	conv, err := s.current()
	if err != nil {
		return ""
	}
	return conv.id
}

// Messages returns the open conversation's messages ordered by creation time
func (s *Session) Messages() ([]*entity.Message, error) {
	conv, err := s.current()
	if err != nil {
		return nil, err
	}
	return conv.messages.Messages(), nil
}

func (s *Session) Send(ctx context.Context, req *SendRequest) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.messages.Send(ctx, req)
}

func (s *Session) Edit(ctx context.Context, messageId, content string) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.messages.Edit(ctx, messageId, content)
}

func (s *Session) DeleteMessage(ctx context.Context, messageId string) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.messages.Delete(ctx, messageId)
}

func (s *Session) MarkRead(ctx context.Context, messageId string) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.messages.MarkRead(ctx, messageId)
}

func (s *Session) ToggleReaction(ctx context.Context, messageId, emoji string) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.messages.ToggleReaction(ctx, messageId, emoji)
}

func (s *Session) Refetch(ctx context.Context) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.messages.Refetch(ctx, constant.RefetchRefresh)
}

func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	conv, err := s.current()
	if err != nil {
		return 0, err
	}
	return conv.messages.LoadOlder(ctx)
}

func (s *Session) StartTyping(ctx context.Context) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.typing.StartTyping(ctx)
}

func (s *Session) StopTyping(ctx context.Context) error {
	conv, err := s.current()
	if err != nil {
		return err
	}
	return conv.typing.StopTyping(ctx)
}

// Typing returns who else is typing in the open conversation
func (s *Session) Typing() ([]*entity.TypingIndicator, error) {
	conv, err := s.current()
	if err != nil {
		return nil, err
	}
	return conv.typing.Active(), nil
}

// Conversations returns the directory snapshot
func (s *Session) Conversations() []*entity.Conversation {
	return s.directory.Conversations()
}

func (s *Session) FetchConversations(ctx context.Context) ([]*entity.Conversation, error) {
	return s.directory.Fetch(ctx)
}

func (s *Session) CreateConversation(ctx context.Context, participantIds []string, isGroup bool, name string) (*entity.Conversation, error) {
	return s.directory.Create(ctx, participantIds, isGroup, name)
}

func (s *Session) EnsureDirect(ctx context.Context, peerId string) (*entity.Conversation, error) {
	return s.directory.EnsureDirect(ctx, peerId)
}

// DeleteConversation deletes a conversation, closing it first when it is open
func (s *Session) DeleteConversation(ctx context.Context, conversationId string) error {
	if s.ActiveConversationId() == conversationId {
		s.CloseConversation(ctx)
	}
	return s.directory.Delete(ctx, conversationId)
}

// Online returns the online identity ids
func (s *Session) Online() []string {
	return s.presence.Online()
}
