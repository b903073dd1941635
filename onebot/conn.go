package onebot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errLinkClosed = errors.New("connection closed")

// session is one established link. Only its writer goroutine writes to ws.
type session struct {
	id     string
	ws     *websocket.Conn
	writes chan writeRequest
	done   chan struct{}
	once   sync.Once
}

type writeRequest struct {
	data   []byte
	result chan error
}

func newSession(ws *websocket.Conn) *session {
	return &session{
		id:     uuid.NewString(),
		ws:     ws,
		writes: make(chan writeRequest),
		done:   make(chan struct{}),
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.ws.Close()
	})
}

// Run connects to the gateway and keeps the link alive until ctx is
// cancelled. After any dial or read failure it waits RetryDelay and dials
// again, forever. On return all outstanding calls have been failed with
// ErrClosed and every running handler has finished.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("onebot: client already running")
	}

	for {
		s, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("onebot: connect failed", "url", c.opts.URL, "err", err)
		} else {
			err = c.serve(ctx, s)
			if ctx.Err() != nil {
				break
			}
			slog.Warn("onebot: disconnected", "session", s.id, "err", err)
		}

		slog.Info("onebot: reconnecting", "delay", c.opts.RetryDelay)
		select {
		case <-ctx.Done():
		case <-time.After(c.opts.RetryDelay):
			continue
		}
		break
	}

	if n := c.pending.failAll(ErrClosed); n > 0 {
		slog.Info("onebot: failed outstanding calls on shutdown", "count", n)
	}
	c.handlers.Wait()
	slog.Info("onebot: stopped")
	return nil
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	header := http.Header{}
	if c.opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.opts.AccessToken)
	}

	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	ws.SetReadLimit(maxFrameSize)

	s := newSession(ws)
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	slog.Info("onebot: connected", "url", c.opts.URL, "session", s.id)
	return s, nil
}

// serve runs the read loop for s until the link drops or ctx is done.
func (c *Client) serve(ctx context.Context, s *session) error {
	defer func() {
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
		s.close()
	}()

	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	go c.writeLoop(s)

	// The link is dead once PongWait passes with neither a pong nor a frame.
	pongWait := c.opts.PongWait
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for frame, err := range readFrames(s.ws) {
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(ctx, frame)
	}
	return nil
}

// readFrames yields inbound frames until the link fails. The failure is
// yielded last with a nil frame.
func readFrames(ws *websocket.Conn) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(data, nil) {
				return
			}
		}
	}
}

func (c *Client) writeLoop(s *session) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case req := <-s.writes:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.ws.WriteMessage(websocket.TextMessage, req.data)
			req.result <- err
			if err != nil {
				slog.Warn("onebot: write failed", "session", s.id, "err", err)
				s.close()
				return
			}

		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Warn("onebot: ping failed", "session", s.id, "err", err)
				s.close()
				return
			}

		case <-s.done:
			return
		}
	}
}

// send hands data to the current link's writer and waits for the write to
// complete. It never drops a frame silently.
func (c *Client) send(ctx context.Context, data []byte) error {
	s := c.session()
	if s == nil {
		return ErrNotConnected
	}

	req := writeRequest{data: data, result: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.done:
		return &TransportError{Op: "write", Err: errLinkClosed}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return writeErr(err)
	case <-s.done:
		select {
		case err := <-req.result:
			return writeErr(err)
		default:
			return &TransportError{Op: "write", Err: errLinkClosed}
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeErr(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: "write", Err: err}
}
