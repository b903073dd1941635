package onebot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/onebot-bridge/onebottest"
)

func newServer(t *testing.T) *onebottest.Server {
	t.Helper()
	srv := onebottest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *onebottest.Server, opts Options) *Client {
	opts.URL = srv.URL()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 20 * time.Millisecond
	}
	return New(opts)
}

// run starts c and waits until both ends see the first connection. The
// returned func stops the client and waits for Run to return.
func run(t *testing.T, srv *onebottest.Server, c *Client) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Run(ctx))
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)

	require.Eventually(t, func() bool {
		return c.Connected() && srv.Accepts() > 0
	}, 2*time.Second, 5*time.Millisecond)
	return stop
}

type asyncResult struct {
	resp Response
	err  error
}

func callAsync(c *Client, action string, params any) <-chan asyncResult {
	out := make(chan asyncResult, 1)
	go func() {
		resp, err := c.Call(context.Background(), action, params)
		out <- asyncResult{resp, err}
	}()
	return out
}

func TestCall_RoundTrip(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(req onebottest.Request) *onebottest.Reply {
		return onebottest.OK(map[string]any{"online": true, "good": true})
	})
	c := newTestClient(srv, Options{})
	run(t, srv, c)

	resp, err := c.Call(context.Background(), "get_status", nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())

	req, ok := srv.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "get_status", req.Action)
	assert.Equal(t, map[string]any{}, req.Params)
	assert.Regexp(t, regexp.MustCompile(`^echo_\d+$`), req.Echo)
	assert.Equal(t, req.Echo, resp.Echo)
	assert.Equal(t, 0, c.pending.len())

	st := c.GetStatus(context.Background())
	assert.True(t, st.Online)
	assert.True(t, st.Good)
}

func TestCall_TokensIncrease(t *testing.T) {
	srv := newServer(t)
	c := newTestClient(srv, Options{})
	run(t, srv, c)

	for i := 1; i <= 3; i++ {
		c.Invoke(context.Background(), "get_login_info", nil)
		req, ok := srv.Next(time.Second)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("echo_%d", i), req.Echo)
	}
}

func TestCall_NotConnectedFailsFast(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})

	start := time.Now()
	resp, err := c.Call(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, FailedRetCode, resp.RetCode)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, c.pending.len())

	assert.Equal(t, FailedResponse(), c.Invoke(context.Background(), "get_status", nil))
	assert.Equal(t, int64(-1), c.SendPrivateMsg(context.Background(), 1, "hi", false))
}

func TestCall_Timeout(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(onebottest.Request) *onebottest.Reply { return nil })
	c := newTestClient(srv, Options{ActionTimeout: 50 * time.Millisecond})
	run(t, srv, c)

	resp, err := c.Call(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, FailedRetCode, resp.RetCode)
	assert.Equal(t, 0, c.pending.len(), "timed out entry must be purged")

	assert.Equal(t, FailedResponse(), c.Invoke(context.Background(), "get_status", nil))
}

func TestCall_ForeignEchoDoesNotResolve(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(onebottest.Request) *onebottest.Reply { return nil })
	c := newTestClient(srv, Options{})
	run(t, srv, c)

	out := callAsync(c, "get_status", map[string]any{})
	req, ok := srv.Next(time.Second)
	require.True(t, ok)

	srv.Push(`{"status":"ok","retcode":0,"data":{"online":false},"echo":"echo_999999"}`)
	select {
	case r := <-out:
		t.Fatalf("call resolved by a foreign echo: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, c.pending.len())

	srv.Push(fmt.Sprintf(`{"status":"ok","retcode":0,"data":{"online":true},"echo":%q}`, req.Echo))
	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.True(t, r.resp.OK())
		assert.JSONEq(t, `{"online":true}`, string(r.resp.Data))
	case <-time.After(time.Second):
		t.Fatal("call never resolved")
	}
}

func TestCall_ConcurrentCallsGetTheirOwnResponses(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(req onebottest.Request) *onebottest.Reply {
		// Answer in a scrambled order relative to arrival.
		time.Sleep(time.Duration(req.Int("n")%5) * time.Millisecond)
		return onebottest.OK(map[string]any{"n": req.Params["n"]})
	})
	c := newTestClient(srv, Options{})
	run(t, srv, c)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Call(context.Background(), "echo_back", map[string]any{"n": i})
			if !assert.NoError(t, err) {
				return
			}
			var data struct {
				N int `json:"n"`
			}
			assert.NoError(t, resp.Decode(&data))
			assert.Equal(t, i, data.N)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, c.pending.len())
}

func TestRun_HelpCommandRepliesPrivately(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(onebottest.Request) *onebottest.Reply {
		return onebottest.OK(map[string]any{"message_id": 10})
	})
	c := newTestClient(srv, Options{})

	var fired sync.WaitGroup
	fired.Add(1)
	c.OnMessage("help", func(ctx context.Context, c *Client, m *MessageEvent) error {
		defer fired.Done()
		if id := c.SendPrivateMsg(ctx, m.UserID, "commands: /help", false); id < 0 {
			return errors.New("send failed")
		}
		return nil
	}, Command("help"))
	run(t, srv, c)

	srv.Push(helpFrame)

	req, ok := srv.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "send_private_msg", req.Action)
	assert.Equal(t, int64(1), req.Int("user_id"))
	assert.Equal(t, "commands: /help", req.String("message"))
	fired.Wait()

	_, again := srv.Next(100 * time.Millisecond)
	assert.False(t, again, "handler must fire exactly once")
}

func TestRun_SendsAccessToken(t *testing.T) {
	srv := newServer(t)
	c := newTestClient(srv, Options{AccessToken: "s3cret"})
	run(t, srv, c)

	assert.Equal(t, "Bearer s3cret", srv.Authorization())
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	srv := newServer(t)
	c := newTestClient(srv, Options{RetryDelay: 50 * time.Millisecond})
	rec := newRecorder()
	c.Handle(CategoryMessage, Binding{Name: "all", Handler: rec.handler("all")})
	run(t, srv, c)

	first := c.SessionID()
	require.NotEmpty(t, first)

	srv.DropAll()
	require.Eventually(t, func() bool {
		return c.Connected() && c.SessionID() != first && srv.Accepts() == 2
	}, 2*time.Second, 5*time.Millisecond)

	srv.Push(groupFrame)
	select {
	case name := <-rec.ch:
		assert.Equal(t, "all", name)
	case <-time.After(time.Second):
		t.Fatal("no dispatch after reconnect")
	}
}

func TestRun_RetriesUntilGatewayAccepts(t *testing.T) {
	srv := newServer(t)
	srv.Reject(true)
	c := newTestClient(srv, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.Connected())
	assert.Equal(t, 0, srv.Accepts())

	srv.Reject(false)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestRun_StaleResponseAfterReconnectIsDiscarded(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(onebottest.Request) *onebottest.Reply { return nil })
	c := newTestClient(srv, Options{ActionTimeout: 300 * time.Millisecond})
	run(t, srv, c)
	first := c.SessionID()

	// Issued on the first link and left to time out there.
	_, err := c.Call(context.Background(), "get_status", nil)
	require.ErrorIs(t, err, ErrTimeout)
	stale, ok := srv.Next(time.Second)
	require.True(t, ok)
	require.Equal(t, 0, c.pending.len())

	srv.DropAll()
	require.Eventually(t, func() bool {
		return c.Connected() && c.SessionID() != first && srv.Accepts() == 2
	}, 2*time.Second, 5*time.Millisecond)

	out := callAsync(c, "get_status", nil)
	fresh, ok := srv.Next(time.Second)
	require.True(t, ok)
	require.NotEqual(t, stale.Echo, fresh.Echo, "tokens are not reused across links")

	srv.Push(fmt.Sprintf(`{"status":"ok","retcode":0,"data":{"online":false},"echo":%q}`, stale.Echo))
	select {
	case r := <-out:
		t.Fatalf("late response for %s resolved %s: %+v", stale.Echo, fresh.Echo, r)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, c.pending.len())

	srv.Push(fmt.Sprintf(`{"status":"ok","retcode":0,"data":{"online":true},"echo":%q}`, fresh.Echo))
	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.JSONEq(t, `{"online":true}`, string(r.resp.Data))
	case <-time.After(time.Second):
		t.Fatal("call never resolved")
	}
}

func TestRun_SilentGatewayIsRedialed(t *testing.T) {
	srv := newServer(t)
	srv.Stall(true)
	c := newTestClient(srv, Options{PongWait: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	first := c.SessionID()

	require.Eventually(t, func() bool {
		return srv.Accepts() >= 2
	}, 2*time.Second, 5*time.Millisecond, "unanswered pings must drop the link")
	assert.NotEqual(t, first, c.SessionID())
}

func TestRun_PongsKeepLinkAlive(t *testing.T) {
	srv := newServer(t)
	c := newTestClient(srv, Options{PongWait: 200 * time.Millisecond, PingPeriod: 50 * time.Millisecond})
	run(t, srv, c)
	first := c.SessionID()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, first, c.SessionID())
	assert.Equal(t, 1, srv.Accepts())
}

func TestCall_WriteFailureFailsImmediately(t *testing.T) {
	srv := newServer(t)
	c := newTestClient(srv, Options{ActionTimeout: 5 * time.Second})

	ws, _, err := websocket.DefaultDialer.Dial(srv.URL(), nil)
	require.NoError(t, err)
	s := newSession(ws)
	t.Cleanup(s.close)
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	go c.writeLoop(s)

	// Break the socket underneath the writer.
	require.NoError(t, ws.UnderlyingConn().Close())

	start := time.Now()
	resp, err := c.Call(context.Background(), "get_status", nil)
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, "write", terr.Op)
	assert.Equal(t, FailedResponse(), resp)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.pending.len())

	// The writer gave up on the link; later calls fail on the closed session.
	_, err = c.Call(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, errLinkClosed)
	assert.Equal(t, 0, c.pending.len())
	assert.Equal(t, FailedResponse(), c.Invoke(context.Background(), "get_status", nil))
}

func TestRun_ShutdownFailsOutstandingCalls(t *testing.T) {
	srv := newServer(t)
	srv.Respond(func(onebottest.Request) *onebottest.Reply { return nil })
	c := newTestClient(srv, Options{ActionTimeout: time.Minute})
	stop := run(t, srv, c)

	out := callAsync(c, "get_status", nil)
	_, ok := srv.Next(time.Second)
	require.True(t, ok)

	stop()
	select {
	case r := <-out:
		assert.ErrorIs(t, r.err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("shutdown left the call waiting")
	}
	assert.False(t, c.Connected())
}

func TestRun_RejectsSecondRun(t *testing.T) {
	srv := newServer(t)
	c := newTestClient(srv, Options{})
	run(t, srv, c)

	assert.Error(t, c.Run(context.Background()))
}

func TestOptionsDefaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultRetryDelay, c.opts.RetryDelay)
	assert.Equal(t, DefaultActionTimeout, c.opts.ActionTimeout)
	assert.Equal(t, DefaultPongWait, c.opts.PongWait)
	assert.Equal(t, DefaultPongWait*9/10, c.opts.PingPeriod)

	c = New(Options{PongWait: time.Second, PingPeriod: 2 * time.Second})
	assert.Equal(t, 900*time.Millisecond, c.opts.PingPeriod, "ping period is kept below the pong wait")
}
