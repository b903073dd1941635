// Package onebot is a client for the OneBot 11 forward WebSocket protocol.
//
// A Client holds one connection to the gateway and keeps it alive, matches
// action responses to their requests by echo token, and fans inbound events
// out to registered handlers. Handlers and any other goroutine issue actions
// through Call, Invoke or the typed wrappers; all socket writes are funneled
// to the connection's writer goroutine.
package onebot

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultRetryDelay    = 5 * time.Second
	DefaultActionTimeout = 10 * time.Second
	DefaultBridgeTimeout = 360 * time.Second
	DefaultPongWait      = 60 * time.Second

	writeWait    = 10 * time.Second
	maxFrameSize = 16 << 20
)

type Options struct {
	// URL of the gateway, e.g. ws://127.0.0.1:6700.
	URL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string

	// RetryDelay is the fixed pause between reconnect attempts. There is no
	// backoff and no attempt limit.
	RetryDelay time.Duration
	// ActionTimeout bounds the wait for a response once a request is written.
	ActionTimeout time.Duration
	// BridgeTimeout bounds handing a request to the connection's writer.
	BridgeTimeout time.Duration
	// PongWait is how long the link may stay silent, with no pong and no
	// frame, before it is treated as dead and redialed.
	PongWait time.Duration
	// PingPeriod defaults to 9/10 of PongWait and is clamped below it.
	PingPeriod time.Duration

	Dialer *websocket.Dialer
}

func (o *Options) setDefaults() {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	if o.BridgeTimeout <= 0 {
		o.BridgeTimeout = DefaultBridgeTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
}

type Client struct {
	opts Options

	registry *registry
	pending  *pendingTable
	nextEcho atomic.Int64

	mu      sync.RWMutex
	current *session

	running  atomic.Bool
	handlers sync.WaitGroup
}

func New(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:     opts,
		registry: newRegistry(),
		pending:  newPendingTable(),
	}
}

// Connected reports whether a link is currently established.
func (c *Client) Connected() bool {
	return c.session() != nil
}

// SessionID identifies the current link, or "" when disconnected.
func (c *Client) SessionID() string {
	if s := c.session(); s != nil {
		return s.id
	}
	return ""
}

func (c *Client) session() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Handle registers a binding for a category. Bindings with an unknown
// category or no handler are ignored.
func (c *Client) Handle(cat Category, b Binding) {
	c.registry.add(cat, b)
}

// OnMessage registers a message handler guarded by preds.
func (c *Client) OnMessage(name string, fn func(ctx context.Context, c *Client, m *MessageEvent) error, preds ...Predicate) {
	c.Handle(CategoryMessage, Binding{
		Name:       name,
		Predicates: preds,
		Handler: func(ctx context.Context, c *Client, ev Event) error {
			return fn(ctx, c, ev.(*MessageEvent))
		},
	})
}

func (c *Client) OnNotice(name string, fn func(ctx context.Context, c *Client, n *NoticeEvent) error, preds ...Predicate) {
	c.Handle(CategoryNotice, Binding{
		Name:       name,
		Predicates: preds,
		Handler: func(ctx context.Context, c *Client, ev Event) error {
			return fn(ctx, c, ev.(*NoticeEvent))
		},
	})
}

func (c *Client) OnRequest(name string, fn func(ctx context.Context, c *Client, r *RequestEvent) error, preds ...Predicate) {
	c.Handle(CategoryRequest, Binding{
		Name:       name,
		Predicates: preds,
		Handler: func(ctx context.Context, c *Client, ev Event) error {
			return fn(ctx, c, ev.(*RequestEvent))
		},
	})
}

func (c *Client) OnMetaEvent(name string, fn func(ctx context.Context, c *Client, m *MetaEvent) error, preds ...Predicate) {
	c.Handle(CategoryMetaEvent, Binding{
		Name:       name,
		Predicates: preds,
		Handler: func(ctx context.Context, c *Client, ev Event) error {
			return fn(ctx, c, ev.(*MetaEvent))
		},
	})
}
