package service

import (
	"context"
	"strings"
	"sync"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/identity"
	"github.com/mbeoliero/ecommunity/sdk"
)

// ConversationService keeps the conversation directory of the signed-in identity
type ConversationService struct {
	api      MessagingAPI
	self     *identity.Identity
	presence PresenceView
	notify   func()

	mu            sync.RWMutex
	conversations []*entity.Conversation
}

// NewConversationService creates a new ConversationService; presence may be nil
func NewConversationService(api MessagingAPI, self *identity.Identity, presence PresenceView, notify func()) *ConversationService {
	if notify == nil {
		notify = func() {}
	}
	return &ConversationService{
		api:      api,
		self:     self,
		presence: presence,
		notify:   notify,
	}
}

// Fetch reloads the full list. On failure the cached list is kept.
func (s *ConversationService) Fetch(ctx context.Context) ([]*entity.Conversation, error) {
	infos, err := s.api.ListConversations(ctx)
	if err != nil {
		log.CtxError(ctx, "fetch conversations failed: user_id=%s, error=%v", s.self.Id, err)
		return nil, errcode.ErrConversationFetch.Wrap(err)
	}

	convs := make([]*entity.Conversation, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			convs = append(convs, toConversation(info))
		}
	}

	s.mu.Lock()
	s.conversations = convs
	s.mu.Unlock()
	s.notify()

	return s.Conversations(), nil
}

// Refresh is Fetch with the error only logged
func (s *ConversationService) Refresh(ctx context.Context) {
	_, _ = s.Fetch(ctx)
}

// Create creates a conversation and adds it to the cache. The server does not dedupe.
func (s *ConversationService) Create(ctx context.Context, participantIds []string, isGroup bool, name string) (*entity.Conversation, error) {
	ids := make([]string, 0, len(participantIds))
	for _, id := range participantIds {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errcode.ErrInvalidParam
	}

	info, err := s.api.CreateConversation(ctx, &sdk.CreateConversationRequest{
		ParticipantIds: ids,
		IsGroup:        isGroup,
		Name:           name,
	})
	if err != nil {
		log.CtxError(ctx, "create conversation failed: user_id=%s, participants=%v, error=%v", s.self.Id, ids, err)
		return nil, errcode.ErrConversationCreate.Wrap(err)
	}

	conv := toConversation(info)
	s.upsert(conv)
	s.notify()

	log.CtxInfo(ctx, "conversation created: conversation_id=%s, is_group=%v", conv.Id, conv.IsGroup)
	return s.annotate(conv), nil
}

// FindDirect returns the cached 1:1 conversation with peerId
func (s *ConversationService) FindDirect(peerId string) (*entity.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.IsDirectWith(s.self.Id, peerId) {
			return s.annotate(c), true
		}
	}
	return nil, false
}

// EnsureDirect returns the 1:1 conversation with peerId, creating it when none is cached
func (s *ConversationService) EnsureDirect(ctx context.Context, peerId string) (*entity.Conversation, error) {
	if peerId == "" || peerId == s.self.Id {
		return nil, errcode.ErrInvalidParam
	}
	if conv, ok := s.FindDirect(peerId); ok {
		return conv, nil
	}
	return s.Create(ctx, []string{peerId}, false, "")
}

// Delete deletes a conversation and drops it from the cache
func (s *ConversationService) Delete(ctx context.Context, conversationId string) error {
	if err := s.api.DeleteConversation(ctx, conversationId); err != nil {
		log.CtxError(ctx, "delete conversation failed: conversation_id=%s, error=%v", conversationId, err)
		if sdk.IsNotFound(err) {
			return errcode.ErrConvNotFound
		}
		return errcode.ErrConversationDelete.Wrap(err)
	}

	s.mu.Lock()
	for i, c := range s.conversations {
		if c.Id == conversationId {
			s.conversations = append(s.conversations[:i:i], s.conversations[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Get returns the cached conversation
func (s *ConversationService) Get(conversationId string) (*entity.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Id == conversationId {
			return s.annotate(c), true
		}
	}
	return nil, false
}

// Conversations returns the cached list with participants' online flags set
func (s *ConversationService) Conversations() []*entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, s.annotate(c))
	}
	return out
}

func (s *ConversationService) upsert(conv *entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conversations {
		if c.Id == conv.Id {
			s.conversations[i] = conv
			return
		}
	}
	s.conversations = append([]*entity.Conversation{conv}, s.conversations...)
}

func (s *ConversationService) annotate(c *entity.Conversation) *entity.Conversation {
	out := c.Clone()
	if s.presence == nil {
		return out
	}
	for _, p := range out.Participants {
		p.Online = s.presence.IsOnline(p.Id)
	}
	return out
}
