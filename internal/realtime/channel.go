package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeoliero/kit/log"
)

// ChannelConfig is sent with phx_join
type ChannelConfig struct {
	Changes       []ChangeFilter
	BroadcastSelf bool
	BroadcastAck  bool
	PresenceKey   string
}

// Handlers receive channel events on the channel's own goroutine, in arrival order.
// Nil handlers are skipped.
type Handlers struct {
	OnChange        func(ChangeEvent)
	OnBroadcast     func(BroadcastEvent)
	OnPresenceSync  func(PresenceState)
	OnPresenceJoin  func(key string, metas []PresenceMeta)
	OnPresenceLeave func(key string, metas []PresenceMeta)
	OnStatus        func(status Status, err error)
}

// Subscription is a joined channel
type Subscription interface {
	Topic() string
	Broadcast(ctx context.Context, event string, payload interface{}) error
	Track(ctx context.Context, payload interface{}) error
	Unsubscribe(ctx context.Context) error
}

// channel implements Subscription
type channel struct {
	client   *Client
	name     string
	topic    string
	cfg      ChannelConfig
	handlers Handlers

	mu       sync.Mutex
	joinRef  string
	tracked  json.RawMessage
	presence PresenceState

	joined    atomic.Bool
	leaving   atomic.Bool
	rejoining atomic.Bool
	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(client *Client, name string, cfg ChannelConfig, h Handlers) *channel {
	return &channel{
		client:   client,
		name:     name,
		topic:    TopicPrefix + name,
		cfg:      cfg,
		handlers: h,
		presence: PresenceState{},
		events:   make(chan func(), client.opts.EventBufferSize),
		done:     make(chan struct{}),
	}
}

// Topic returns the channel name without the transport prefix
func (ch *channel) Topic() string {
	return ch.name
}

func (ch *channel) getJoinRef() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef
}

func (ch *channel) setJoinRef(ref string) {
	ch.mu.Lock()
	ch.joinRef = ref
	ch.mu.Unlock()
}

func (ch *channel) joinPayload(token string) joinPayload {
	changes := ch.cfg.Changes
	if changes == nil {
		changes = []ChangeFilter{}
	}
	return joinPayload{
		Config: joinConfig{
			Broadcast:       broadcastConfig{Self: ch.cfg.BroadcastSelf, Ack: ch.cfg.BroadcastAck},
			Presence:        presenceConfig{Key: ch.cfg.PresenceKey},
			PostgresChanges: changes,
		},
		AccessToken: token,
	}
}

// Broadcast sends an ephemeral event to every other subscriber of the channel
func (ch *channel) Broadcast(ctx context.Context, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ch.joined.Load() {
		return ErrChannelNotJoined
	}

	raw, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast payload: %w", err)
	}

	env, err := newEnvelope(ch.topic, EventBroadcast, ch.client.nextRef(), ch.getJoinRef(), broadcastPayload{
		Type:    EventBroadcast,
		Event:   event,
		Payload: raw,
	})
	if err != nil {
		return err
	}

	if !ch.cfg.BroadcastAck {
		return ch.client.push(env)
	}
	reply, err := ch.client.request(ctx, env)
	if err != nil {
		return err
	}
	if reply.Status != ReplyOK {
		return fmt.Errorf("broadcast %s rejected: %s", event, string(reply.Response))
	}
	return nil
}

// Track announces payload under the channel's presence key; it is re-sent after a rejoin
func (ch *channel) Track(ctx context.Context, payload interface{}) error {
	raw, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode presence payload: %w", err)
	}

	ch.mu.Lock()
	ch.tracked = raw
	ch.mu.Unlock()

	return ch.sendTrack(ctx, raw)
}

func (ch *channel) sendTrack(ctx context.Context, raw json.RawMessage) error {
	if !ch.joined.Load() {
		return ErrChannelNotJoined
	}

	env, err := newEnvelope(ch.topic, EventPresence, ch.client.nextRef(), ch.getJoinRef(), trackPayload{
		Type:    EventPresence,
		Event:   "track",
		Payload: raw,
	})
	if err != nil {
		return err
	}

	reply, err := ch.client.request(ctx, env)
	if err != nil {
		return err
	}
	if reply.Status != ReplyOK {
		return fmt.Errorf("presence track rejected: %s", string(reply.Response))
	}
	return nil
}

// retrack re-sends the last tracked payload, used after a rejoin
func (ch *channel) retrack(ctx context.Context) {
	ch.mu.Lock()
	raw := ch.tracked
	ch.mu.Unlock()

	if raw == nil {
		return
	}
	if err := ch.sendTrack(ctx, raw); err != nil {
		log.CtxWarn(ctx, "realtime retrack failed: topic=%s, error=%v", ch.name, err)
	}
}

// Unsubscribe leaves the channel and stops event delivery
func (ch *channel) Unsubscribe(ctx context.Context) error {
	select {
	case <-ch.done:
		return nil
	default:
	}
	ch.leaving.Store(true)

	var err error
	if ch.joined.Load() {
		env, encErr := newEnvelope(ch.topic, EventLeave, ch.client.nextRef(), ch.getJoinRef(), struct{}{})
		if encErr == nil {
			// leave is best effort; the server drops the channel with the socket anyway
			err = ch.client.push(env)
		}
	}

	ch.client.removeChannel(ch)
	ch.close()
	return err
}

func (ch *channel) close() {
	ch.closeOnce.Do(func() {
		ch.joined.Store(false)
		close(ch.done)
	})
}

// run delivers queued events until the channel closes
func (ch *channel) run() {
	for {
		select {
		case fn := <-ch.events:
			ch.invoke(fn)
		case <-ch.done:
			return
		}
	}
}

func (ch *channel) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("realtime handler panic: topic=%s, error=%v", ch.name, r)
		}
	}()
	fn()
}

// enqueue never blocks the socket reader; a full queue drops the event
func (ch *channel) enqueue(fn func()) {
	select {
	case <-ch.done:
		return
	default:
	}

	select {
	case ch.events <- fn:
	default:
		log.Warn("realtime event queue full, dropping event: topic=%s", ch.name)
	}
}

func (ch *channel) emitStatus(status Status, err error) {
	if h := ch.handlers.OnStatus; h != nil {
		ch.enqueue(func() { h(status, err) })
	}
}

// dispatch translates a server frame into handler calls
func (ch *channel) dispatch(env *Envelope) {
	switch env.Event {
	case EventPostgresChanges:
		if ch.handlers.OnChange == nil {
			return
		}
		var p changesPayload
		if err := Decode(env.Payload, &p); err != nil {
			log.Warn("realtime decode postgres_changes failed: topic=%s, error=%v", ch.name, err)
			return
		}
		evt := ChangeEvent{
			Type:            p.Data.Type,
			Schema:          p.Data.Schema,
			Table:           p.Data.Table,
			Record:          p.Data.Record,
			OldRecord:       p.Data.OldRecord,
			CommitTimestamp: p.Data.CommitTimestamp,
		}
		h := ch.handlers.OnChange
		ch.enqueue(func() { h(evt) })

	case EventBroadcast:
		if ch.handlers.OnBroadcast == nil {
			return
		}
		var p broadcastPayload
		if err := Decode(env.Payload, &p); err != nil {
			log.Warn("realtime decode broadcast failed: topic=%s, error=%v", ch.name, err)
			return
		}
		evt := BroadcastEvent{Event: p.Event, Payload: p.Payload}
		h := ch.handlers.OnBroadcast
		ch.enqueue(func() { h(evt) })

	case EventPresenceState:
		var entries map[string]presenceEntry
		if err := Decode(env.Payload, &entries); err != nil {
			log.Warn("realtime decode presence_state failed: topic=%s, error=%v", ch.name, err)
			return
		}
		next := entriesToState(entries)
		ch.mu.Lock()
		joins, leaves := syncState(ch.presence, next)
		ch.presence = next
		snapshot := next.Clone()
		ch.mu.Unlock()
		ch.emitPresence(joins, leaves, snapshot)

	case EventPresenceDiff:
		var diff presenceDiff
		if err := Decode(env.Payload, &diff); err != nil {
			log.Warn("realtime decode presence_diff failed: topic=%s, error=%v", ch.name, err)
			return
		}
		joins := entriesToState(diff.Joins)
		leaves := entriesToState(diff.Leaves)
		ch.mu.Lock()
		syncDiff(ch.presence, joins, leaves)
		snapshot := ch.presence.Clone()
		ch.mu.Unlock()
		ch.emitPresence(joins, leaves, snapshot)

	case EventError:
		ch.joined.Store(false)
		ch.emitStatus(StatusChannelError, ErrChannelError)
		ch.scheduleRejoin()

	case EventClose:
		ch.joined.Store(false)
		ch.emitStatus(StatusClosed, nil)
		if !ch.leaving.Load() {
			ch.scheduleRejoin()
		}

	default:
		log.Debug("realtime ignoring event: topic=%s, event=%s", ch.name, env.Event)
	}
}

// scheduleRejoin retries the join on the reconnect backoff while the socket stays up.
// A socket drop hands the channel over to the client's reconnect loop.
func (ch *channel) scheduleRejoin() {
	if !ch.rejoining.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer ch.rejoining.Store(false)

		c := ch.client
		backoff := c.opts.ReconnectBackoff
		for attempt := 0; ; attempt++ {
			delay := backoff[len(backoff)-1]
			if attempt < len(backoff) {
				delay = backoff[attempt]
			}

			select {
			case <-time.After(delay):
			case <-ch.done:
				return
			case <-c.ctx.Done():
				return
			}

			if ch.joined.Load() || ch.leaving.Load() || !c.connected() {
				return
			}
			if err := c.join(c.ctx, ch); err != nil {
				log.CtxWarn(c.ctx, "realtime channel rejoin failed: topic=%s, attempt=%d, error=%v", ch.name, attempt+1, err)
				continue
			}

			log.CtxInfo(c.ctx, "realtime channel rejoined: topic=%s, attempt=%d", ch.name, attempt+1)
			ch.retrack(c.ctx)
			return
		}
	}()
}

func (ch *channel) emitPresence(joins, leaves, snapshot PresenceState) {
	if h := ch.handlers.OnPresenceJoin; h != nil {
		for _, key := range joins.Keys() {
			key, metas := key, joins[key]
			ch.enqueue(func() { h(key, metas) })
		}
	}
	if h := ch.handlers.OnPresenceLeave; h != nil {
		for _, key := range leaves.Keys() {
			key, metas := key, leaves[key]
			ch.enqueue(func() { h(key, metas) })
		}
	}
	if h := ch.handlers.OnPresenceSync; h != nil {
		ch.enqueue(func() { h(snapshot) })
	}
}
