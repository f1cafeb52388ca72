package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/pkg/idgen"
)

// Options configures a Client
type Options struct {
	// URL of the project, http(s) or ws(s); the websocket path is appended when missing
	URL               string
	APIKey            string
	AccessToken       string
	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	EventBufferSize   int
	WriteChannelSize  int
	ReconnectBackoff  []time.Duration
	Dialer            Dialer
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = HeartbeatInterval
	}
	if o.JoinTimeout == 0 {
		o.JoinTimeout = JoinTimeout
	}
	if o.WriteWait == 0 {
		o.WriteWait = WriteWait
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = MaxMessageSize
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = EventBufferSize
	}
	if o.WriteChannelSize == 0 {
		o.WriteChannelSize = WriteChannelSize
	}
	if len(o.ReconnectBackoff) == 0 {
		o.ReconnectBackoff = DefaultReconnectBackoff
	}
	if o.Dialer == nil {
		o.Dialer = WebSocketDialer(o.MaxMessageSize, o.WriteWait, o.WriteChannelSize)
	}
}

// Client multiplexes channels over one websocket to the hosted channel service
type Client struct {
	opts       Options
	endpoint   string
	instanceId string

	mu           sync.RWMutex
	conn         Conn
	token        string
	channels     map[string]*channel
	pending      map[string]chan *replyPayload
	heartbeatRef string

	ref    atomic.Uint64
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a Client; call Connect before subscribing
func NewClient(opts Options) (*Client, error) {
	opts.setDefaults()

	endpoint, err := buildEndpoint(opts.URL, opts.APIKey)
	if err != nil {
		return nil, err
	}
	instanceId, err := idgen.NewUUIDGenerator().NextID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:       opts,
		endpoint:   endpoint,
		instanceId: instanceId,
		token:      opts.AccessToken,
		channels:   make(map[string]*channel),
		pending:    make(map[string]chan *replyPayload),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// buildEndpoint derives the websocket url
//
//	https://abc.example.co => wss://abc.example.co/realtime/v1/websocket?apikey=..&vsn=1.0.0
func buildEndpoint(raw, apiKey string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid realtime url scheme: %q", u.Scheme)
	}

	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	}

	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", ProtocolVersion)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Endpoint returns the websocket url
func (c *Client) Endpoint() string {
	return c.endpoint
}

// InstanceId identifies this client process, e.g. in presence metas
func (c *Client) InstanceId() string {
	return c.instanceId
}

// Connect dials the service and starts the read and heartbeat loops
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := c.dialAndServe(ctx); err != nil {
		return err
	}
	log.CtxInfo(ctx, "realtime connected: endpoint=%s, instance=%s", c.opts.URL, c.instanceId)
	return nil
}

func (c *Client) dialAndServe(ctx context.Context) error {
	conn, err := c.opts.Dialer(ctx, c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to dial realtime: %w", err)
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.heartbeatRef = ""
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)
	return nil
}

// Subscribe joins topic and blocks until the server confirms the join
func (c *Client) Subscribe(ctx context.Context, topic string, cfg ChannelConfig, h Handlers) (Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	ch := newChannel(c, topic, cfg, h)

	c.mu.Lock()
	if _, exists := c.channels[ch.topic]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTopic, topic)
	}
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	go ch.run()

	if err := c.join(ctx, ch); err != nil {
		c.removeChannel(ch)
		ch.close()
		return nil, err
	}
	return ch, nil
}

func (c *Client) join(ctx context.Context, ch *channel) error {
	ref := c.nextRef()
	ch.setJoinRef(ref)

	env, err := newEnvelope(ch.topic, EventJoin, ref, ref, ch.joinPayload(c.getToken()))
	if err != nil {
		return err
	}

	reply, err := c.request(ctx, env)
	if err != nil {
		return fmt.Errorf("join %s: %w", ch.name, err)
	}
	if reply.Status != ReplyOK {
		return fmt.Errorf("%w: topic=%s, response=%s", ErrJoinRejected, ch.name, string(reply.Response))
	}

	ch.joined.Store(true)
	ch.emitStatus(StatusSubscribed, nil)
	log.CtxDebug(ctx, "realtime joined: topic=%s", ch.name)
	return nil
}

// SetAccessToken replaces the token used for joins and pushes it to joined channels
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	channels := c.channelsLocked()
	c.mu.Unlock()

	for _, ch := range channels {
		if !ch.joined.Load() {
			continue
		}
		env, err := newEnvelope(ch.topic, EventAccessToken, c.nextRef(), ch.getJoinRef(), accessTokenPayload{AccessToken: token})
		if err != nil {
			continue
		}
		if err := c.push(env); err != nil {
			log.Warn("realtime push access token failed: topic=%s, error=%v", ch.name, err)
		}
	}
}

func (c *Client) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) channelsLocked() []*channel {
	out := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Client) removeChannel(ch *channel) {
	c.mu.Lock()
	if cur, ok := c.channels[ch.topic]; ok && cur == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
}

func (c *Client) connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

// push writes a frame without waiting for a reply
func (c *Client) push(env *Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(data)
}

// request writes a frame and waits for the phx_reply carrying the same ref
func (c *Client) request(ctx context.Context, env *Envelope) (*replyPayload, error) {
	wait := make(chan *replyPayload, 1)

	c.mu.Lock()
	c.pending[env.Ref] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, env.Ref)
		c.mu.Unlock()
	}()

	if err := c.push(env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-wait:
		if !ok {
			return nil, ErrConnClosed
		}
		return reply, nil
	case <-timer.C:
		return nil, ErrJoinTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClientClosed
	}
}

// readLoop continuously reads frames from conn
func (c *Client) readLoop(conn Conn) {
	var readErr error
	defer func() {
		if r := recover(); r != nil {
			readErr = ErrPanic
			log.CtxError(c.ctx, "realtime read loop panic: error=%v", r)
		}
		c.handleDisconnect(conn, readErr)
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var env Envelope
		if err := Decode(data, &env); err != nil {
			log.CtxWarn(c.ctx, "realtime invalid frame: error=%v", err)
			continue
		}
		c.route(&env)
	}
}

func (c *Client) route(env *Envelope) {
	if env.Event == EventReply && env.Ref != "" {
		if env.Topic == TopicPhoenix {
			c.mu.Lock()
			if c.heartbeatRef == env.Ref {
				c.heartbeatRef = ""
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		wait, ok := c.pending[env.Ref]
		if ok {
			delete(c.pending, env.Ref)
		}
		c.mu.Unlock()

		if ok {
			var reply replyPayload
			if err := Decode(env.Payload, &reply); err != nil {
				reply = replyPayload{Status: ReplyError, Response: env.Payload}
			}
			wait <- &reply
			return
		}
	}

	c.mu.RLock()
	ch := c.channels[env.Topic]
	c.mu.RUnlock()

	if ch == nil {
		log.CtxDebug(c.ctx, "realtime frame for unknown topic: topic=%s, event=%s", env.Topic, env.Event)
		return
	}
	// frames from a previous join of the same topic
	if env.JoinRef != "" && env.JoinRef != ch.getJoinRef() {
		return
	}
	ch.dispatch(env)
}

// heartbeatLoop sends heartbeats on conn until it is replaced or the client closes
func (c *Client) heartbeatLoop(conn Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			if c.heartbeatRef != "" {
				c.mu.Unlock()
				log.CtxWarn(c.ctx, "realtime heartbeat timeout, closing connection")
				conn.Close()
				return
			}
			ref := c.nextRef()
			c.heartbeatRef = ref
			c.mu.Unlock()

			env, err := newEnvelope(TopicPhoenix, EventHeartbeat, ref, "", struct{}{})
			if err != nil {
				continue
			}
			if err := c.push(env); err != nil {
				log.CtxDebug(c.ctx, "realtime heartbeat push failed: error=%v", err)
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleDisconnect(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = nil
	c.heartbeatRef = ""
	for ref, wait := range c.pending {
		close(wait)
		delete(c.pending, ref)
	}
	channels := c.channelsLocked()
	c.mu.Unlock()

	conn.Close()

	if c.closed.Load() {
		return
	}

	log.CtxWarn(c.ctx, "realtime disconnected: error=%v", err)
	for _, ch := range channels {
		ch.joined.Store(false)
		ch.emitStatus(StatusChannelError, fmt.Errorf("%w: %v", ErrConnClosed, err))
	}

	go c.reconnectLoop()
}

// reconnectLoop dials with backoff and rejoins every live channel
func (c *Client) reconnectLoop() {
	backoff := c.opts.ReconnectBackoff
	for attempt := 0; ; attempt++ {
		delay := backoff[len(backoff)-1]
		if attempt < len(backoff) {
			delay = backoff[attempt]
		}

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		if err := c.dialAndServe(c.ctx); err != nil {
			log.CtxWarn(c.ctx, "realtime reconnect failed: attempt=%d, error=%v", attempt+1, err)
			continue
		}

		log.CtxInfo(c.ctx, "realtime reconnected: attempt=%d", attempt+1)
		c.rejoinAll()
		return
	}
}

func (c *Client) rejoinAll() {
	c.mu.RLock()
	channels := c.channelsLocked()
	c.mu.RUnlock()

	for _, ch := range channels {
		go func(ch *channel) {
			if err := c.join(c.ctx, ch); err != nil {
				log.CtxWarn(c.ctx, "realtime rejoin failed: topic=%s, error=%v", ch.name, err)
				ch.emitStatus(StatusChannelError, err)
				return
			}
			ch.retrack(c.ctx)
		}(ch)
	}
}

// Close leaves every channel and closes the connection
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	channels := c.channelsLocked()
	c.channels = make(map[string]*channel)
	for ref, wait := range c.pending {
		close(wait)
		delete(c.pending, ref)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
