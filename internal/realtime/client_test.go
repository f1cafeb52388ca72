package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeServer speaks enough of the channel protocol to drive a Client
type fakeServer struct {
	srv    *httptest.Server
	joins  chan Envelope
	frames chan Envelope

	mu      sync.Mutex
	conns   []*websocket.Conn
	writeMu sync.Mutex
	reject  map[string]bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		joins:  make(chan Envelope, 16),
		frames: make(chan Envelope, 64),
		reject: make(map[string]bool),
	}
	upgrader := websocket.Upgrader{}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()
		fs.serve(conn)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		status := ReplyOK
		switch env.Event {
		case EventHeartbeat:
		case EventJoin:
			fs.mu.Lock()
			if fs.reject[env.Topic] {
				status = ReplyError
			}
			fs.mu.Unlock()
			fs.joins <- env
		default:
			select {
			case fs.frames <- env:
			default:
			}
		}

		if env.Ref != "" {
			fs.writeTo(conn, Envelope{
				Topic:   env.Topic,
				Event:   EventReply,
				Ref:     env.Ref,
				JoinRef: env.JoinRef,
				Payload: json.RawMessage(`{"status":"` + status + `","response":{}}`),
			})
		}
	}
}

func (fs *fakeServer) writeTo(conn *websocket.Conn, env Envelope) {
	data, _ := json.Marshal(env)
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// send pushes a frame on the newest connection
func (fs *fakeServer) send(topic, event, payload string) {
	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	fs.writeTo(conn, Envelope{Topic: topic, Event: event, Payload: json.RawMessage(payload)})
}

func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		c.Close()
	}
}

func newConnectedClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()
	c, err := NewClient(Options{
		URL:              fs.srv.URL,
		APIKey:           "anon",
		AccessToken:      "tok",
		JoinTimeout:      time.Second,
		ReconnectBackoff: []time.Duration{20 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func waitJoin(t *testing.T, fs *fakeServer) Envelope {
	t.Helper()
	select {
	case env := <-fs.joins:
		return env
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for join")
	}
	return Envelope{}
}

func waitFrame(t *testing.T, fs *fakeServer, event string) Envelope {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env := <-fs.frames:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", event)
		}
	}
}

func TestSubscribeAndReceiveChanges(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs)

	changes := make(chan ChangeEvent, 1)
	statuses := make(chan Status, 4)
	_, err := c.Subscribe(context.Background(), "messages:c1", ChannelConfig{
		Changes: []ChangeFilter{{Event: ChangeAll, Schema: "public", Table: "messages", Filter: "conversation_id=eq.c1"}},
	}, Handlers{
		OnChange: func(e ChangeEvent) { changes <- e },
		OnStatus: func(s Status, err error) { statuses <- s },
	})
	require.NoError(t, err)

	join := waitJoin(t, fs)
	assert.Equal(t, "realtime:messages:c1", join.Topic)
	var jp joinPayload
	require.NoError(t, json.Unmarshal(join.Payload, &jp))
	assert.Equal(t, "tok", jp.AccessToken)
	require.Len(t, jp.Config.PostgresChanges, 1)
	assert.Equal(t, "conversation_id=eq.c1", jp.Config.PostgresChanges[0].Filter)

	select {
	case s := <-statuses:
		assert.Equal(t, StatusSubscribed, s)
	case <-time.After(waitTimeout):
		t.Fatal("no subscribed status")
	}

	fs.send("realtime:messages:c1", EventPostgresChanges,
		`{"ids":[1],"data":{"type":"INSERT","schema":"public","table":"messages","record":{"id":"m1"},"old_record":null}}`)

	select {
	case e := <-changes:
		assert.Equal(t, ChangeInsert, e.Type)
		assert.Equal(t, "messages", e.Table)
		var rec struct {
			Id string `json:"id"`
		}
		require.NoError(t, e.DecodeRecord(&rec))
		assert.Equal(t, "m1", rec.Id)
	case <-time.After(waitTimeout):
		t.Fatal("no change event")
	}
}

func TestSubscribeRejected(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject["realtime:private"] = true
	c := newConnectedClient(t, fs)

	_, err := c.Subscribe(context.Background(), "private", ChannelConfig{}, Handlers{})
	assert.ErrorIs(t, err, ErrJoinRejected)

	// the failed topic can be retried
	fs.mu.Lock()
	fs.reject["realtime:private"] = false
	fs.mu.Unlock()
	_, err = c.Subscribe(context.Background(), "private", ChannelConfig{}, Handlers{})
	assert.NoError(t, err)

	_, err = c.Subscribe(context.Background(), "private", ChannelConfig{}, Handlers{})
	assert.ErrorIs(t, err, ErrDuplicateTopic)
}

func TestBroadcastTrackAndLeave(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs)

	received := make(chan BroadcastEvent, 1)
	sub, err := c.Subscribe(context.Background(), "typing:c1", ChannelConfig{PresenceKey: "u1"}, Handlers{
		OnBroadcast: func(e BroadcastEvent) { received <- e },
	})
	require.NoError(t, err)
	waitJoin(t, fs)

	require.NoError(t, sub.Broadcast(context.Background(), "typing", map[string]string{"userId": "u1"}))
	frame := waitFrame(t, fs, EventBroadcast)
	var bp broadcastPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &bp))
	assert.Equal(t, "typing", bp.Event)
	assert.JSONEq(t, `{"userId":"u1"}`, string(bp.Payload))

	require.NoError(t, sub.Track(context.Background(), map[string]string{"userId": "u1"}))
	waitFrame(t, fs, EventPresence)

	fs.send("realtime:typing:c1", EventBroadcast, `{"type":"broadcast","event":"stop_typing","payload":{"userId":"u2"}}`)
	select {
	case e := <-received:
		assert.Equal(t, "stop_typing", e.Event)
	case <-time.After(waitTimeout):
		t.Fatal("no broadcast event")
	}

	require.NoError(t, sub.Unsubscribe(context.Background()))
	waitFrame(t, fs, EventLeave)
	assert.ErrorIs(t, sub.Broadcast(context.Background(), "typing", nil), ErrChannelNotJoined)
}

func TestPresenceEvents(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs)

	joins := make(chan string, 4)
	leaves := make(chan string, 4)
	syncs := make(chan []string, 4)
	_, err := c.Subscribe(context.Background(), "presence", ChannelConfig{PresenceKey: "me"}, Handlers{
		OnPresenceJoin:  func(key string, _ []PresenceMeta) { joins <- key },
		OnPresenceLeave: func(key string, _ []PresenceMeta) { leaves <- key },
		OnPresenceSync:  func(s PresenceState) { syncs <- s.Keys() },
	})
	require.NoError(t, err)
	waitJoin(t, fs)

	fs.send("realtime:presence", EventPresenceState, `{"me":{"metas":[{"phx_ref":"a"}]},"u2":{"metas":[{"phx_ref":"b"}]}}`)
	assert.Equal(t, "me", <-joins)
	assert.Equal(t, "u2", <-joins)
	assert.Equal(t, []string{"me", "u2"}, <-syncs)

	fs.send("realtime:presence", EventPresenceDiff, `{"joins":{},"leaves":{"u2":{"metas":[{"phx_ref":"b"}]}}}`)
	select {
	case key := <-leaves:
		assert.Equal(t, "u2", key)
	case <-time.After(waitTimeout):
		t.Fatal("no leave event")
	}
	assert.Equal(t, []string{"me"}, <-syncs)
}

func TestReconnectRejoins(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs)

	statuses := make(chan Status, 8)
	sub, err := c.Subscribe(context.Background(), "presence", ChannelConfig{PresenceKey: "me"}, Handlers{
		OnStatus: func(s Status, err error) { statuses <- s },
	})
	require.NoError(t, err)
	waitJoin(t, fs)
	require.NoError(t, sub.Track(context.Background(), map[string]string{"userId": "me"}))
	waitFrame(t, fs, EventPresence)

	fs.dropAll()

	rejoin := waitJoin(t, fs)
	assert.Equal(t, "realtime:presence", rejoin.Topic)
	// tracked payload is announced again on the new connection
	waitFrame(t, fs, EventPresence)

	var seen []Status
	deadline := time.After(waitTimeout)
	for len(seen) < 3 {
		select {
		case s := <-statuses:
			seen = append(seen, s)
		case <-deadline:
			t.Fatalf("statuses so far: %v", seen)
		}
	}
	assert.Equal(t, []Status{StatusSubscribed, StatusChannelError, StatusSubscribed}, seen)
}

func TestChannelErrorRejoins(t *testing.T) {
	tcases := []struct {
		event string
		want  Status
	}{
		{event: EventError, want: StatusChannelError},
		{event: EventClose, want: StatusClosed},
	}

	for _, tc := range tcases {
		t.Run(tc.event, func(t *testing.T) {
			fs := newFakeServer(t)
			c := newConnectedClient(t, fs)

			statuses := make(chan Status, 8)
			sub, err := c.Subscribe(context.Background(), "messages:c1", ChannelConfig{PresenceKey: "me"}, Handlers{
				OnStatus: func(s Status, err error) { statuses <- s },
			})
			require.NoError(t, err)
			waitJoin(t, fs)
			require.NoError(t, sub.Track(context.Background(), map[string]string{"userId": "me"}))
			waitFrame(t, fs, EventPresence)

			fs.send("realtime:messages:c1", tc.event, `{}`)

			rejoin := waitJoin(t, fs)
			assert.Equal(t, "realtime:messages:c1", rejoin.Topic)
			waitFrame(t, fs, EventPresence)

			var seen []Status
			deadline := time.After(waitTimeout)
			for len(seen) < 3 {
				select {
				case s := <-statuses:
					seen = append(seen, s)
				case <-deadline:
					t.Fatalf("statuses so far: %v", seen)
				}
			}
			assert.Equal(t, []Status{StatusSubscribed, tc.want, StatusSubscribed}, seen)
			assert.NoError(t, sub.Broadcast(context.Background(), "typing", nil))
		})
	}
}

func TestCloseAfterLeaveDoesNotRejoin(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs)

	sub, err := c.Subscribe(context.Background(), "typing:c1", ChannelConfig{}, Handlers{})
	require.NoError(t, err)
	waitJoin(t, fs)

	ch := sub.(*channel)
	require.NoError(t, sub.Unsubscribe(context.Background()))
	ch.dispatch(&Envelope{Topic: "realtime:typing:c1", Event: EventClose})

	select {
	case env := <-fs.joins:
		t.Fatalf("unexpected rejoin of %s", env.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseFailsRequests(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs)

	require.NoError(t, c.Close())
	_, err := c.Subscribe(context.Background(), "late", ChannelConfig{}, Handlers{})
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.NoError(t, c.Close())
}
