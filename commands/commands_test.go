package commands

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/onebot-bridge/db"
	"github.com/nicebartender/onebot-bridge/onebot"
	"github.com/nicebartender/onebot-bridge/onebottest"
)

func gateway(req onebottest.Request) *onebottest.Reply {
	switch req.Action {
	case "send_private_msg", "send_group_msg":
		return onebottest.OK(map[string]any{"message_id": 1})
	case "get_status":
		return onebottest.OK(map[string]any{"online": true, "good": false})
	case "get_version_info":
		return onebottest.OK(map[string]any{"app_name": "go-cqhttp", "app_version": "1.2.0", "protocol_version": "v11"})
	}
	return onebottest.Failed(1404, "unsupported")
}

func setup(t *testing.T, database *db.DB, version string) (*onebottest.Server, *Router) {
	t.Helper()
	srv := onebottest.NewServer()
	t.Cleanup(srv.Close)
	srv.Respond(gateway)

	c := onebot.New(onebot.Options{URL: srv.URL(), RetryDelay: 20 * time.Millisecond})
	r := NewRouter(c, database, version)

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

	require.Eventually(t, func() bool {
		return c.Connected() && srv.Accepts() > 0
	}, 2*time.Second, 5*time.Millisecond)
	return srv, r
}

func privateFrame(userID int64, text string) string {
	return fmt.Sprintf(`{"post_type":"message","message_type":"private","user_id":%d,"raw_message":%q,"message_id":1,
		"sender":{"user_id":%d,"nickname":"alice"}}`, userID, text, userID)
}

func groupFrame(groupID, userID int64, text string) string {
	return fmt.Sprintf(`{"post_type":"message","message_type":"group","group_id":%d,"user_id":%d,"raw_message":%q,"message_id":2,
		"time":1700000000,"sender":{"user_id":%d,"nickname":"bob","card":"Bobby"}}`, groupID, userID, text, userID)
}

func next(t *testing.T, srv *onebottest.Server) onebottest.Request {
	t.Helper()
	req, ok := srv.Next(2 * time.Second)
	require.True(t, ok, "no request reached the gateway")
	return req
}

func TestHelpRepliesToSender(t *testing.T) {
	srv, r := setup(t, nil, "")
	assert.Equal(t, []string{"help", "status", "version"}, r.Commands())

	srv.Push(privateFrame(42, "/help"))

	req := next(t, srv)
	assert.Equal(t, "send_private_msg", req.Action)
	assert.Equal(t, int64(42), req.Int("user_id"))
	assert.Contains(t, req.String("message"), "/status")
	assert.NotContains(t, req.String("message"), "/history")
}

func TestStatusQueriesGateway(t *testing.T) {
	srv, _ := setup(t, nil, "")

	srv.Push(groupFrame(100, 7, "/status"))

	assert.Equal(t, "get_status", next(t, srv).Action)
	req := next(t, srv)
	assert.Equal(t, "send_group_msg", req.Action)
	assert.Equal(t, int64(100), req.Int("group_id"))
	assert.Contains(t, req.String("message"), "online: true")
	assert.Contains(t, req.String("message"), "good: false")
}

func TestVersion(t *testing.T) {
	srv, _ := setup(t, nil, "v0.3.0")

	srv.Push(privateFrame(1, "/version"))

	assert.Equal(t, "get_version_info", next(t, srv).Action)
	msg := next(t, srv).String("message")
	assert.Contains(t, msg, "go-cqhttp 1.2.0 (protocol v11)")
	assert.Contains(t, msg, "bridge v0.3.0")
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	srv, _ := setup(t, nil, "")

	srv.Push(privateFrame(1, "/helpme"))
	srv.Push(privateFrame(1, "hello"))

	_, ok := srv.Next(100 * time.Millisecond)
	assert.False(t, ok)
}

func TestHistoryRecordsAndReplays(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	srv, r := setup(t, database, "")
	assert.Contains(t, r.Commands(), "history")

	srv.Push(groupFrame(100, 7, "first"))
	srv.Push(groupFrame(100, 7, "second"))
	srv.Push(groupFrame(200, 7, "elsewhere"))
	require.Eventually(t, func() bool {
		n, err := database.CountMessages(onebot.MessageTypeGroup, 100)
		return err == nil && n == 2
	}, 2*time.Second, 5*time.Millisecond)

	msgs, err := database.RecentMessages(onebot.MessageTypeGroup, 100, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bobby", msgs[0].SenderName)
	assert.Equal(t, int64(1700000000), msgs[0].CreatedAt.Unix())

	srv.Push(groupFrame(100, 7, "/history 2"))

	req := next(t, srv)
	assert.Equal(t, "send_group_msg", req.Action)
	assert.Contains(t, req.String("message"), "Bobby: second")
	assert.NotContains(t, req.String("message"), "elsewhere")
}

func TestHistoryRejectsBadCount(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	srv, _ := setup(t, database, "")
	srv.Push(privateFrame(5, "/history lots"))

	req := next(t, srv)
	assert.Equal(t, "send_private_msg", req.Action)
	assert.Equal(t, "usage: /history [n]", req.String("message"))
}

func TestSenderName(t *testing.T) {
	m := &onebot.MessageEvent{UserID: 9}
	assert.Equal(t, "9", senderName(m))
	m.Sender.Nickname = "nick"
	assert.Equal(t, "nick", senderName(m))
	m.Sender.Card = "card"
	assert.Equal(t, "card", senderName(m))
}
