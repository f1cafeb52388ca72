package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/pkg/identity"
	"github.com/mbeoliero/ecommunity/sdk"
)

var (
	testSelf = &identity.Identity{Id: "me", Name: "Me", Role: identity.RoleMember}
	baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// fakeAPI is an in-memory messaging backend for one or more conversations
type fakeAPI struct {
	mu            sync.Mutex
	messages      map[string][]*sdk.MessageInfo
	reactions     map[string][]*sdk.ReactionInfo
	conversations []*sdk.ConversationInfo
	seq           int

	sendErr    error
	listErr    error
	getErr     error
	reactErr   error
	convErr    error
	onSend     func()
	afterSend  func(m *sdk.MessageInfo)
	sent       []*sdk.SendMessageRequest
	sentBodies []string
	calls      map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages:  make(map[string][]*sdk.MessageInfo),
		reactions: make(map[string][]*sdk.ReactionInfo),
		calls:     make(map[string]int),
	}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) hit(name string) {
	f.calls[name]++
}

// seed adds a server-side message and returns it
func (f *fakeAPI) seed(conversationId, content string, sender *sdk.UserInfo) *sdk.MessageInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(conversationId, content, sender)
}

func (f *fakeAPI) addLocked(conversationId, content string, sender *sdk.UserInfo) *sdk.MessageInfo {
	f.seq++
	m := &sdk.MessageInfo{
		Id:             fmt.Sprintf("m%d", f.seq),
		ConversationId: conversationId,
		Content:        content,
		SenderId:       sender.Id,
		Sender:         sender,
		CreatedAt:      baseTime.Add(time.Duration(f.seq) * time.Second),
	}
	f.messages[conversationId] = append(f.messages[conversationId], m)
	return m
}

func (f *fakeAPI) withReactions(m *sdk.MessageInfo) *sdk.MessageInfo {
	cp := *m
	cp.Reactions = append([]*sdk.ReactionInfo(nil), f.reactions[m.Id]...)
	return &cp
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]*sdk.ConversationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("ListConversations")
	if f.convErr != nil {
		return nil, f.convErr
	}
	return append([]*sdk.ConversationInfo(nil), f.conversations...), nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context, req *sdk.CreateConversationRequest) (*sdk.ConversationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("CreateConversation")
	if f.convErr != nil {
		return nil, f.convErr
	}
	f.seq++
	conv := &sdk.ConversationInfo{
		Id:           fmt.Sprintf("c%d", f.seq),
		IsGroup:      req.IsGroup,
		Name:         req.Name,
		Participants: []*sdk.UserInfo{{Id: testSelf.Id, Name: testSelf.Name}},
	}
	for _, id := range req.ParticipantIds {
		conv.Participants = append(conv.Participants, &sdk.UserInfo{Id: id, Name: id})
	}
	f.conversations = append(f.conversations, conv)
	return conv, nil
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, conversationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("DeleteConversation")
	for i, c := range f.conversations {
		if c.Id == conversationId {
			f.conversations = append(f.conversations[:i], f.conversations[i+1:]...)
			return nil
		}
	}
	return sdk.NewError(404, "conversation not found")
}

// ListMessages pages newest first by cursor, the cursor being the oldest id returned
func (f *fakeAPI) ListMessages(ctx context.Context, conversationId string, q *sdk.ListMessagesQuery) (*sdk.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("ListMessages")
	if f.listErr != nil {
		return nil, f.listErr
	}

	all := f.messages[conversationId]
	end := len(all)
	if q.Cursor != "" {
		for i, m := range all {
			if m.Id == q.Cursor {
				end = i
				break
			}
		}
	}
	start := 0
	if q.Limit > 0 && end-q.Limit > 0 {
		start = end - q.Limit
	}

	page := &sdk.MessagePage{HasMore: start > 0}
	for i := end - 1; i >= start; i-- {
		page.Messages = append(page.Messages, f.withReactions(all[i]))
	}
	if page.HasMore {
		page.NextCursor = all[start].Id
	}
	return page, nil
}

func (f *fakeAPI) find(messageId string) *sdk.MessageInfo {
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.Id == messageId {
				return m
			}
		}
	}
	return nil
}

func (f *fakeAPI) GetMessage(ctx context.Context, messageId string) (*sdk.MessageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("GetMessage")
	if f.getErr != nil {
		return nil, f.getErr
	}
	m := f.find(messageId)
	if m == nil {
		return nil, sdk.NewError(404, "message not found")
	}
	return f.withReactions(m), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationId string, req *sdk.SendMessageRequest) (*sdk.MessageInfo, error) {
	f.mu.Lock()
	f.hit("SendMessage")
	onSend := f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend()
	}

	f.mu.Lock()
	f.sent = append(f.sent, req)
	for _, file := range req.Files {
		body, _ := io.ReadAll(file.Reader)
		f.sentBodies = append(f.sentBodies, string(body))
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return nil, err
	}
	m := f.addLocked(conversationId, req.Content, &sdk.UserInfo{Id: testSelf.Id, Name: testSelf.Name})
	afterSend := f.afterSend
	f.mu.Unlock()

	if afterSend != nil {
		afterSend(m)
	}
	return m, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, messageId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("MarkRead")
	if m := f.find(messageId); m != nil {
		m.IsRead = true
		return nil
	}
	return sdk.NewError(404, "message not found")
}

func (f *fakeAPI) ToggleReaction(ctx context.Context, messageId, reaction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("ToggleReaction")
	if f.reactErr != nil {
		return f.reactErr
	}
	rows := f.reactions[messageId]
	for i, r := range rows {
		if r.UserId == testSelf.Id && r.Reaction == reaction {
			f.reactions[messageId] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	f.reactions[messageId] = append(rows, &sdk.ReactionInfo{
		Reaction: reaction,
		UserId:   testSelf.Id,
		User:     &sdk.UserInfo{Id: testSelf.Id, Name: testSelf.Name},
	})
	return nil
}

func (f *fakeAPI) EditMessage(ctx context.Context, messageId, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("EditMessage")
	if m := f.find(messageId); m != nil {
		m.Content = content
		m.IsEdited = true
		return nil
	}
	return sdk.NewError(404, "message not found")
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("DeleteMessage")
	for conv, msgs := range f.messages {
		for i, m := range msgs {
			if m.Id == messageId {
				f.messages[conv] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return sdk.NewError(404, "message not found")
}

// mockSigner signs storage paths
type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) CreateSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	args := m.Called(path, expiresIn)
	return args.String(0), args.Error(1)
}

// fakeRealtime records subscriptions and lets tests drive their handlers synchronously
type fakeRealtime struct {
	mu      sync.Mutex
	subs    map[string]*fakeSub
	history []string
	fail    map[string]error
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		subs: make(map[string]*fakeSub),
		fail: make(map[string]error),
	}
}

type fakeBroadcast struct {
	Event   string
	Payload json.RawMessage
}

type fakeSub struct {
	topic string
	cfg   realtime.ChannelConfig
	h     realtime.Handlers

	mu           sync.Mutex
	broadcasts   []fakeBroadcast
	tracked      []json.RawMessage
	unsubscribed bool
}

func (f *fakeRealtime) Subscribe(ctx context.Context, topic string, cfg realtime.ChannelConfig, h realtime.Handlers) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[topic]; err != nil {
		return nil, err
	}
	sub := &fakeSub{topic: topic, cfg: cfg, h: h}
	f.subs[topic] = sub
	f.history = append(f.history, topic)
	return sub, nil
}

func (f *fakeRealtime) sub(t *testing.T, topic string) *fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[topic]
	require.True(t, ok, "no subscription for %s", topic)
	return sub
}

// live returns the topics not unsubscribed, sorted
func (f *fakeRealtime) live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var topics []string
	for topic, sub := range f.subs {
		sub.mu.Lock()
		if !sub.unsubscribed {
			topics = append(topics, topic)
		}
		sub.mu.Unlock()
	}
	sort.Strings(topics)
	return topics
}

func (s *fakeSub) Topic() string {
	return s.topic
}

func (s *fakeSub) Broadcast(ctx context.Context, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribed {
		return realtime.ErrChannelNotJoined
	}
	s.broadcasts = append(s.broadcasts, fakeBroadcast{Event: event, Payload: raw})
	return nil
}

func (s *fakeSub) Track(ctx context.Context, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = append(s.tracked, raw)
	return nil
}

func (s *fakeSub) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

func (s *fakeSub) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.broadcasts))
	for _, b := range s.broadcasts {
		out = append(out, b.Event)
	}
	return out
}

func (s *fakeSub) change(t *testing.T, table string, typ realtime.ChangeType, record, oldRecord interface{}) {
	t.Helper()
	e := realtime.ChangeEvent{Type: typ, Schema: "public", Table: table}
	if record != nil {
		raw, err := json.Marshal(record)
		require.NoError(t, err)
		e.Record = raw
	}
	if oldRecord != nil {
		raw, err := json.Marshal(oldRecord)
		require.NoError(t, err)
		e.OldRecord = raw
	}
	s.h.OnChange(e)
}

func (s *fakeSub) broadcast(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	s.h.OnBroadcast(realtime.BroadcastEvent{Event: event, Payload: raw})
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock {
	return &clock{now: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (b fakeBroadcast) decode(v interface{}) error {
	return json.Unmarshal(b.Payload, v)
}
