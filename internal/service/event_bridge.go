package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/metrics"
	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/pkg/constant"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
)

// messageRecord is the row shape of the messages table in change events
type messageRecord struct {
	Id             string `json:"id"`
	ConversationId string `json:"conversation_id"`
	Content        string `json:"content"`
	IsEdited       bool   `json:"is_edited"`
}

type refreshPayload struct {
	ConversationId string `json:"conversationId"`
}

// EventBridge feeds change events and refresh broadcasts of one conversation into its MessageService
type EventBridge struct {
	rt             Realtime
	conversationId string
	messages       *MessageService
	metrics        *metrics.Recorder

	mu       sync.Mutex
	changes  realtime.Subscription
	refresh  realtime.Subscription
	degraded bool
}

func NewEventBridge(rt Realtime, messages *MessageService, rec *metrics.Recorder) *EventBridge {
	return &EventBridge{
		rt:             rt,
		conversationId: messages.ConversationId(),
		messages:       messages,
		metrics:        rec,
	}
}

// Attach subscribes the change feed and the refresh channel
func (b *EventBridge) Attach(ctx context.Context) error {
	filter := "conversation_id=eq." + b.conversationId
	changesTopic := fmt.Sprintf(constant.TopicMessages(), b.conversationId)

	changes, err := b.rt.Subscribe(ctx, changesTopic, realtime.ChannelConfig{
		Changes: []realtime.ChangeFilter{
			{Event: realtime.ChangeAll, Schema: constant.SchemaPublic, Table: constant.TableMessages, Filter: filter},
			{Event: realtime.ChangeAll, Schema: constant.SchemaPublic, Table: constant.TableMessageReactions, Filter: filter},
		},
	}, realtime.Handlers{
		OnChange: b.onChange,
		OnStatus: b.onStatus,
	})
	if err != nil {
		return errcode.ErrChannelJoin.Wrap(err)
	}

	refresh, err := b.rt.Subscribe(ctx, fmt.Sprintf(constant.TopicRefresh(), b.conversationId), realtime.ChannelConfig{}, realtime.Handlers{
		OnBroadcast: b.onBroadcast,
	})
	if err != nil {
		_ = changes.Unsubscribe(ctx)
		return errcode.ErrChannelJoin.Wrap(err)
	}

	b.mu.Lock()
	b.changes = changes
	b.refresh = refresh
	b.mu.Unlock()

	log.CtxInfo(ctx, "event bridge attached: conversation_id=%s", b.conversationId)
	return nil
}

// Detach unsubscribes every channel
func (b *EventBridge) Detach(ctx context.Context) {
	b.mu.Lock()
	subs := []realtime.Subscription{b.changes, b.refresh}
	b.changes, b.refresh = nil, nil
	b.mu.Unlock()

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(ctx); err != nil {
			log.CtxWarn(ctx, "unsubscribe failed: topic=%s, error=%v", sub.Topic(), err)
		}
	}
}

// SignalRefresh asks other clients of the conversation to refetch
func (b *EventBridge) SignalRefresh(ctx context.Context) error {
	b.mu.Lock()
	sub := b.refresh
	b.mu.Unlock()

	if sub == nil {
		return errcode.ErrBroadcast.Wrap(realtime.ErrChannelNotJoined)
	}
	if err := sub.Broadcast(ctx, constant.EventRefresh, refreshPayload{ConversationId: b.conversationId}); err != nil {
		return errcode.ErrBroadcast.Wrap(err)
	}
	return nil
}

func (b *EventBridge) onChange(e realtime.ChangeEvent) {
	ctx := context.Background()
	b.metrics.RealtimeEvent(e.Table, string(e.Type))

	switch e.Table {
	case constant.TableMessageReactions:
		_ = b.messages.Refetch(ctx, constant.RefetchReaction)

	case constant.TableMessages:
		var rec messageRecord
		var err error
		if e.Type == realtime.ChangeDelete {
			err = e.DecodeOldRecord(&rec)
		} else {
			err = e.DecodeRecord(&rec)
		}
		if err != nil || rec.Id == "" {
			log.CtxWarn(ctx, "undecodable change event, refetching: conversation_id=%s, type=%s, error=%v", b.conversationId, e.Type, err)
			_ = b.messages.Refetch(ctx, constant.RefetchResolve)
			return
		}

		switch e.Type {
		case realtime.ChangeInsert:
			b.messages.InsertRemote(ctx, rec.Id)
		case realtime.ChangeUpdate:
			b.messages.ApplyRemoteUpdate(rec.Id, rec.Content, rec.IsEdited)
		case realtime.ChangeDelete:
			b.messages.ApplyRemoteDelete(rec.Id)
		}

	default:
		log.CtxDebug(ctx, "ignoring change on table %s", e.Table)
	}
}

func (b *EventBridge) onBroadcast(e realtime.BroadcastEvent) {
	if e.Event != constant.EventRefresh {
		return
	}
	b.metrics.RealtimeEvent(constant.EventRefresh, constant.EventRefresh)

	var p refreshPayload
	if err := e.Decode(&p); err != nil {
		log.Warn("undecodable refresh broadcast: conversation_id=%s, error=%v", b.conversationId, err)
		return
	}
	if p.ConversationId != b.conversationId {
		return
	}
	_ = b.messages.Refetch(context.Background(), constant.RefetchRefresh)
}

// onStatus refetches after a rejoin, events sent while disconnected are lost
func (b *EventBridge) onStatus(status realtime.Status, err error) {
	b.mu.Lock()
	wasDegraded := b.degraded
	b.degraded = status != realtime.StatusSubscribed
	b.mu.Unlock()

	switch status {
	case realtime.StatusSubscribed:
		if wasDegraded {
			_ = b.messages.Refetch(context.Background(), constant.RefetchRejoin)
		}
	case realtime.StatusChannelError:
		log.Warn("message channel error: conversation_id=%s, error=%v", b.conversationId, err)
	}
}
