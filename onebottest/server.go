// Package onebottest provides an in-process fake OneBot gateway for tests.
package onebottest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Request is an action frame as received by the gateway.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Echo   string         `json:"echo"`
}

func (r Request) Int(key string) int64 {
	switch v := r.Params[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func (r Request) String(key string) string {
	s, _ := r.Params[key].(string)
	return s
}

func (r Request) Bool(key string) bool {
	b, _ := r.Params[key].(bool)
	return b
}

// Reply is what a Responder sends back for a request. Echo is filled in from
// the request unless set.
type Reply struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Data    any    `json:"data"`
	Echo    string `json:"echo"`
	Message string `json:"message,omitempty"`
}

func OK(data any) *Reply { return &Reply{Status: "ok", Data: data} }

func Failed(retcode int, message string) *Reply {
	return &Reply{Status: "failed", RetCode: retcode, Message: message}
}

// Responder answers a request. Returning nil sends nothing, which lets tests
// exercise timeouts.
type Responder func(Request) *Reply

// Server is a fake gateway. Every connection gets a read pump that records
// requests and answers them, and a write pump that is the only writer.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*conn]bool
	responder Responder
	authz     string

	requests chan Request
	accepts  atomic.Int32
	reject   atomic.Bool
	stall    atomic.Bool
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func NewServer() *Server {
	s := &Server{
		conns:    make(map[*conn]bool),
		requests: make(chan Request, 256),
	}
	s.responder = func(Request) *Reply { return OK(nil) }
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// Respond replaces the responder.
func (s *Server) Respond(r Responder) {
	s.mu.Lock()
	s.responder = r
	s.mu.Unlock()
}

// Reject makes the server refuse (true) or accept (false) new upgrades.
func (s *Server) Reject(v bool) { s.reject.Store(v) }

// Stall makes new connections go silent after the upgrade: they are held
// open but never read, answered or closed, so pings get no pong.
func (s *Server) Stall(v bool) { s.stall.Store(v) }

// Accepts counts upgrades performed so far.
func (s *Server) Accepts() int { return int(s.accepts.Load()) }

// Authorization returns the header of the last accepted upgrade.
func (s *Server) Authorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authz
}

// Requests delivers every action frame received, in order.
func (s *Server) Requests() <-chan Request { return s.requests }

// Next waits up to timeout for the next request.
func (s *Server) Next(timeout time.Duration) (Request, bool) {
	select {
	case r := <-s.requests:
		return r, true
	case <-time.After(timeout):
		return Request{}, false
	}
}

// Push sends v to every connected client. Strings and byte slices are sent
// verbatim; anything else is JSON encoded.
func (s *Server) Push(v any) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			panic(err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.send <- data:
		case <-c.done:
		}
	}
}

// DropAll closes every live connection, simulating a network failure.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
		delete(s.conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("onebottest: upgrade failed", "err", err)
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, 256), done: make(chan struct{})}
	s.mu.Lock()
	s.conns[c] = true
	s.authz = r.Header.Get("Authorization")
	s.mu.Unlock()
	s.accepts.Add(1)

	if s.stall.Load() {
		return
	}
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("onebottest: invalid request", "err", err)
			continue
		}
		select {
		case s.requests <- req:
		default:
			slog.Warn("onebottest: request buffer full, dropping", "action", req.Action)
		}

		s.mu.Lock()
		respond := s.responder
		s.mu.Unlock()

		reply := respond(req)
		if reply == nil {
			continue
		}
		if reply.Echo == "" {
			reply.Echo = req.Echo
		}
		out, err := json.Marshal(reply)
		if err != nil {
			slog.Error("onebottest: marshal reply", "err", err)
			continue
		}
		select {
		case c.send <- out:
		case <-c.done:
			return
		}
	}
}

func (s *Server) writePump(c *conn) {
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
