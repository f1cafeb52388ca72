package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/mbeoliero/ecommunity/pkg/idgen"
	"github.com/mbeoliero/ecommunity/pkg/identity"
)

const (
	headerAuthorization = "Authorization"
	headerAPIKey        = "apikey"
	headerRequestId     = "X-Request-Id"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// Client is the SDK client for the E-Community messaging API
type Client struct {
	baseURL    string
	prefix     string
	httpClient *client.Client
	apiKey     string
	ids        idgen.IDGenerator

	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu    sync.RWMutex
	token string
}

// ClientOption is a function to configure the client
type ClientOption func(*Client)

// WithHertzClient sets a custom Hertz client
func WithHertzClient(httpClient *client.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sets the access token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithAPIKey sets the project api key sent with every request
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithRole routes requests through the role's API prefix
func WithRole(role identity.RoleType) ClientOption {
	return func(c *Client) {
		c.prefix = role.APIPrefix()
	}
}

// WithTimeouts overrides the dial, read and write timeouts of the default Hertz client
func WithTimeouts(dial, read, write time.Duration) ClientOption {
	return func(c *Client) {
		c.dialTimeout = dial
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithIDGenerator sets the generator of X-Request-Id values
func WithIDGenerator(ids idgen.IDGenerator) ClientOption {
	return func(c *Client) {
		c.ids = ids
	}
}

// NewClient creates a new SDK client
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		dialTimeout:  10 * time.Second,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		httpClient, err := client.NewClient(
			client.WithDialTimeout(c.dialTimeout),
			client.WithClientReadTimeout(c.readTimeout),
			client.WithWriteTimeout(c.writeTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = httpClient
	}

	return c, nil
}

// MustNewClient creates a new SDK client and panics on error
func MustNewClient(baseURL string, opts ...ClientOption) *Client {
	c, err := NewClient(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetToken replaces the access token, e.g. after a refresh
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// GetToken returns the current token
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// newRequest builds a request with auth headers set
func (c *Client) newRequest(method, path string, params url.Values) *protocol.Request {
	reqURL := c.baseURL + c.prefix + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req := &protocol.Request{}
	req.SetMethod(method)
	req.SetRequestURI(reqURL)

	if token := c.GetToken(); token != "" {
		req.Header.Set(headerAuthorization, "Bearer "+token)
	}
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}
	if id, err := c.nextRequestId(); err == nil {
		req.Header.Set(headerRequestId, id)
	}

	return req
}

func (c *Client) nextRequestId() (string, error) {
	if c.ids != nil {
		return c.ids.NextID()
	}
	return idgen.NextID()
}

// do sends the request and decodes a 2xx JSON body into result
func (c *Client) do(ctx context.Context, req *protocol.Request, result interface{}) error {
	resp := &protocol.Response{}

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	status := resp.StatusCode()
	body := resp.Body()
	if status < consts.StatusOK || status >= consts.StatusMultipleChoices {
		return decodeError(status, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// request makes a JSON request and decodes the response
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	req := c.newRequest(method, path, nil)

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.Header.Set(headerContentType, contentTypeJSON)
		req.SetBody(jsonBody)
	}

	return c.do(ctx, req, result)
}

// get makes a GET request with query parameters
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	return c.do(ctx, c.newRequest(consts.MethodGet, path, params), result)
}

// post makes a POST request
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPost, path, body, result)
}

// put makes a PUT request
func (c *Client) put(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPut, path, body, result)
}

// delete makes a DELETE request
func (c *Client) delete(ctx context.Context, path string) error {
	return c.request(ctx, consts.MethodDelete, path, nil, nil)
}

// escapePath escapes each segment of a slash separated path
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
