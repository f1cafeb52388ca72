package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"golang.org/x/time/rate"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/internal/metrics"
	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/pkg/constant"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/identity"
)

type typingPayload struct {
	UserId         string `json:"userId"`
	UserName       string `json:"userName"`
	ConversationId string `json:"conversationId"`
}

// TypingOptions tunes the typing indicator
type TypingOptions struct {
	TTL           time.Duration
	SweepInterval time.Duration
	// Throttle is the minimum gap between repeated typing broadcasts of one burst
	Throttle time.Duration
	Now      func() time.Time
}

// TypingService broadcasts the identity's typing state and tracks who else is typing
type TypingService struct {
	rt             Realtime
	conversationId string
	self           *identity.Identity
	opts           TypingOptions
	metrics        *metrics.Recorder
	notify         func()
	limiter        *rate.Limiter

	mu        sync.Mutex
	sub       realtime.Subscription
	typing    bool
	gen       uint64
	stopTimer *time.Timer
	entries   map[string]*entity.TypingIndicator

	sweeping  bool
	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

func NewTypingService(rt Realtime, conversationId string, self *identity.Identity, opts TypingOptions, rec *metrics.Recorder, notify func()) *TypingService {
	if opts.TTL <= 0 {
		opts.TTL = constant.TypingTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = constant.TypingSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notify == nil {
		notify = func() {}
	}

	limit := rate.Inf
	if opts.Throttle > 0 {
		limit = rate.Every(opts.Throttle)
	}

	return &TypingService{
		rt:             rt,
		conversationId: conversationId,
		self:           self,
		opts:           opts,
		metrics:        rec,
		notify:         notify,
		limiter:        rate.NewLimiter(limit, 1),
		entries:        make(map[string]*entity.TypingIndicator),
		stopSweep:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
}

// Attach subscribes the typing channel and starts the sweep
func (s *TypingService) Attach(ctx context.Context) error {
	sub, err := s.rt.Subscribe(ctx, fmt.Sprintf(constant.TopicTyping(), s.conversationId), realtime.ChannelConfig{}, realtime.Handlers{
		OnBroadcast: s.onBroadcast,
	})
	if err != nil {
		return errcode.ErrChannelJoin.Wrap(err)
	}

	s.mu.Lock()
	s.sub = sub
	s.sweeping = true
	s.mu.Unlock()

	go s.sweepLoop()
	return nil
}

// Detach stops typing, stops the sweep and leaves the channel
func (s *TypingService) Detach(ctx context.Context) {
	_ = s.StopTyping(ctx)

	s.mu.Lock()
	sweeping := s.sweeping
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.stopSweep)
	})
	if sweeping {
		<-s.sweepDone
	}

	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	s.entries = make(map[string]*entity.TypingIndicator)
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(ctx); err != nil {
			log.CtxWarn(ctx, "leave typing channel failed: conversation_id=%s, error=%v", s.conversationId, err)
		}
	}
}

// StartTyping announces typing and re-arms the stop timer. Repeated calls are throttled,
// the first call of a burst always broadcasts.
func (s *TypingService) StartTyping(ctx context.Context) error {
	s.mu.Lock()
	first := !s.typing
	s.typing = true
	s.gen++
	gen := s.gen
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	s.stopTimer = time.AfterFunc(s.opts.TTL, func() { s.expire(gen) })
	allowed := s.limiter.Allow()
	s.mu.Unlock()

	if !first && !allowed {
		return nil
	}
	return s.broadcast(ctx, constant.EventTyping)
}

// StopTyping announces the end of typing; a no-op when not typing
func (s *TypingService) StopTyping(ctx context.Context) error {
	return s.stopTypingIf(ctx, func() bool { return true })
}

// expire stops typing unless a later StartTyping re-armed the timer
func (s *TypingService) expire(gen uint64) {
	_ = s.stopTypingIf(context.Background(), func() bool { return s.gen == gen })
}

// stopTypingIf clears the typing state when cond holds; cond runs under s.mu
func (s *TypingService) stopTypingIf(ctx context.Context, cond func() bool) error {
	s.mu.Lock()
	if !s.typing || !cond() {
		s.mu.Unlock()
		return nil
	}
	s.typing = false
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	s.mu.Unlock()

	return s.broadcast(ctx, constant.EventStopTyping)
}

// IsTyping reports whether the identity is currently announced as typing
func (s *TypingService) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *TypingService) broadcast(ctx context.Context, event string) error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()

	if sub == nil {
		return errcode.ErrBroadcast.Wrap(realtime.ErrChannelNotJoined)
	}
	err := sub.Broadcast(ctx, event, typingPayload{
		UserId:         s.self.Id,
		UserName:       s.self.DisplayName(),
		ConversationId: s.conversationId,
	})
	if err != nil {
		log.CtxWarn(ctx, "typing broadcast failed: conversation_id=%s, event=%s, error=%v", s.conversationId, event, err)
		return errcode.ErrBroadcast.Wrap(err)
	}
	s.metrics.TypingBroadcast(event)
	return nil
}

func (s *TypingService) onBroadcast(e realtime.BroadcastEvent) {
	if e.Event != constant.EventTyping && e.Event != constant.EventStopTyping {
		return
	}
	var p typingPayload
	if err := e.Decode(&p); err != nil {
		log.Warn("undecodable typing broadcast: conversation_id=%s, error=%v", s.conversationId, err)
		return
	}
	if p.UserId == "" || p.UserId == s.self.Id || p.ConversationId != s.conversationId {
		return
	}
	s.metrics.RealtimeEvent("typing", e.Event)

	s.mu.Lock()
	if e.Event == constant.EventTyping {
		s.entries[p.UserId] = &entity.TypingIndicator{
			UserId:         p.UserId,
			UserName:       p.UserName,
			ConversationId: p.ConversationId,
			Timestamp:      s.opts.Now().UnixMilli(),
		}
	} else {
		delete(s.entries, p.UserId)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *TypingService) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.sweep() > 0 {
				s.notify()
			}
		case <-s.stopSweep:
			return
		}
	}
}

// sweep drops expired entries and returns how many were dropped
func (s *TypingService) sweep() int {
	now := s.opts.Now().UnixMilli()
	ttl := s.opts.TTL.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.entries {
		if t.Expired(now, ttl) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Active returns who else is typing in the conversation, oldest first.
// Expired entries are excluded even before the sweep removes them.
func (s *TypingService) Active() []*entity.TypingIndicator {
	now := s.opts.Now().UnixMilli()
	ttl := s.opts.TTL.Milliseconds()

	s.mu.Lock()
	out := make([]*entity.TypingIndicator, 0, len(s.entries))
	for _, t := range s.entries {
		if t.ConversationId != s.conversationId || t.UserId == s.self.Id || t.Expired(now, ttl) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].UserId < out[j].UserId
	})
	return out
}
