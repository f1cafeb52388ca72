package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/metrics"
	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/pkg/constant"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/identity"
)

type presencePayload struct {
	UserId    string `json:"userId"`
	OnlineAt  string `json:"onlineAt"`
	SessionId string `json:"sessionId,omitempty"`
}

// PresenceTracker maintains the set of online identities from the process-wide presence channel
type PresenceTracker struct {
	rt         Realtime
	self       *identity.Identity
	instanceId string
	metrics    *metrics.Recorder
	notify     func()
	now        func() time.Time

	mu     sync.RWMutex
	online map[string]struct{}
	sub    realtime.Subscription
}

func NewPresenceTracker(rt Realtime, self *identity.Identity, instanceId string, rec *metrics.Recorder, notify func(), now func() time.Time) *PresenceTracker {
	if notify == nil {
		notify = func() {}
	}
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{
		rt:         rt,
		self:       self,
		instanceId: instanceId,
		metrics:    rec,
		notify:     notify,
		now:        now,
		online:     make(map[string]struct{}),
	}
}

// Start joins the presence channel keyed by the identity id and announces it
func (p *PresenceTracker) Start(ctx context.Context) error {
	sub, err := p.rt.Subscribe(ctx, constant.TopicPresence, realtime.ChannelConfig{PresenceKey: p.self.Id}, realtime.Handlers{
		OnPresenceSync:  p.onSync,
		OnPresenceJoin:  p.onJoin,
		OnPresenceLeave: p.onLeave,
	})
	if err != nil {
		return errcode.ErrChannelJoin.Wrap(err)
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	err = sub.Track(ctx, presencePayload{
		UserId:    p.self.Id,
		OnlineAt:  p.now().UTC().Format(time.RFC3339),
		SessionId: p.instanceId,
	})
	if err != nil {
		return errcode.ErrPresenceTrack.Wrap(err)
	}

	log.CtxInfo(ctx, "presence tracked: user_id=%s", p.self.Id)
	return nil
}

// Stop leaves the presence channel
func (p *PresenceTracker) Stop(ctx context.Context) {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.online = make(map[string]struct{})
	p.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(ctx); err != nil {
			log.CtxWarn(ctx, "leave presence failed: error=%v", err)
		}
	}
	p.metrics.SetOnline(0)
}

func (p *PresenceTracker) onSync(state realtime.PresenceState) {
	p.mu.Lock()
	p.online = make(map[string]struct{}, len(state))
	for key := range state {
		p.online[key] = struct{}{}
	}
	n := len(p.online)
	p.mu.Unlock()

	p.metrics.RealtimeEvent(constant.TopicPresence, "sync")
	p.metrics.SetOnline(n)
	p.notify()
}

func (p *PresenceTracker) onJoin(key string, _ []realtime.PresenceMeta) {
	p.mu.Lock()
	p.online[key] = struct{}{}
	n := len(p.online)
	p.mu.Unlock()

	p.metrics.RealtimeEvent(constant.TopicPresence, "join")
	p.metrics.SetOnline(n)
	p.notify()
}

// onLeave removes key even if other sessions of the same identity remain
func (p *PresenceTracker) onLeave(key string, _ []realtime.PresenceMeta) {
	p.mu.Lock()
	delete(p.online, key)
	n := len(p.online)
	p.mu.Unlock()

	p.metrics.RealtimeEvent(constant.TopicPresence, "leave")
	p.metrics.SetOnline(n)
	p.notify()
}

func (p *PresenceTracker) IsOnline(userId string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userId]
	return ok
}

// Online returns the online ids, sorted
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
