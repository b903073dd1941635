// Package commands registers the bot's built-in slash commands and the
// message history recorder on a onebot.Client.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nicebartender/onebot-bridge/db"
	"github.com/nicebartender/onebot-bridge/onebot"
)

type command struct {
	name    string
	usage   string
	handler func(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error
}

type Router struct {
	DB      *db.DB
	Version string

	started  time.Time
	commands []command
}

// NewRouter registers the built-in commands on client. History commands and
// the recorder are only registered when database is non-nil.
func NewRouter(client *onebot.Client, database *db.DB, version string) *Router {
	r := &Router{DB: database, Version: version, started: time.Now()}

	r.commands = []command{
		{"help", "/help  list commands", r.handleHelp},
		{"status", "/status  gateway status", r.handleStatus},
		{"version", "/version  gateway version", r.handleVersion},
	}
	if database != nil {
		r.commands = append(r.commands, command{"history", "/history [n]  recent messages here", r.handleHistory})
		client.OnMessage("history-recorder", r.record, onebot.IsMessage())
	}

	for _, cmd := range r.commands {
		client.OnMessage("command-"+cmd.name, cmd.handler, onebot.Command(cmd.name))
	}
	return r
}

// Commands lists the registered command names in help order.
func (r *Router) Commands() []string {
	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.name
	}
	return names
}

func (r *Router) handleHelp(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error {
	var b strings.Builder
	b.WriteString("commands:")
	for _, cmd := range r.commands {
		b.WriteString("\n")
		b.WriteString(cmd.usage)
	}
	return reply(ctx, c, m, b.String())
}

func (r *Router) handleStatus(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error {
	st := c.GetStatus(ctx)
	uptime := time.Since(r.started).Truncate(time.Second)
	return reply(ctx, c, m, fmt.Sprintf("online: %t\ngood: %t\nuptime: %s", st.Online, st.Good, uptime))
}

func (r *Router) handleVersion(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error {
	info := c.GetVersionInfo(ctx)
	if info.AppName == "" {
		return reply(ctx, c, m, "version unavailable")
	}
	text := fmt.Sprintf("%s %s (protocol %s)", info.AppName, info.AppVersion, info.ProtocolVersion)
	if r.Version != "" {
		text += "\nbridge " + r.Version
	}
	return reply(ctx, c, m, text)
}

func (r *Router) handleHistory(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error {
	limit := 0
	if args, _ := onebot.CommandArgs(m, "/", "history"); args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return reply(ctx, c, m, "usage: /history [n]")
		}
		limit = n
	}

	kind, target := conversation(m)
	messages, err := r.DB.RecentMessages(kind, target, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(messages) == 0 {
		return reply(ctx, c, m, "no history yet")
	}

	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", msg.SenderName, msg.Content)
	}
	return reply(ctx, c, m, b.String())
}

func (r *Router) record(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error {
	kind, target := conversation(m)
	_, err := r.DB.InsertMessage(db.Message{
		MessageID:  m.MessageID,
		Kind:       kind,
		TargetID:   target,
		UserID:     m.UserID,
		SenderName: senderName(m),
		Content:    m.RawMessage,
		CreatedAt:  eventTime(m),
	})
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// conversation identifies where m was said: the group for group messages,
// the peer for everything else.
func conversation(m *onebot.MessageEvent) (kind string, target int64) {
	if m.IsGroup() {
		return onebot.MessageTypeGroup, m.GroupID
	}
	return onebot.MessageTypePrivate, m.UserID
}

func senderName(m *onebot.MessageEvent) string {
	switch {
	case m.Sender.Card != "":
		return m.Sender.Card
	case m.Sender.Nickname != "":
		return m.Sender.Nickname
	}
	return strconv.FormatInt(m.UserID, 10)
}

func eventTime(m *onebot.MessageEvent) time.Time {
	if m.Time > 0 {
		return time.Unix(m.Time, 0).UTC()
	}
	return time.Now().UTC()
}

func reply(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent, text string) error {
	if id := c.Reply(ctx, m, text); id < 0 {
		return fmt.Errorf("reply to %s %d failed", m.MessageType, m.UserID)
	}
	slog.Debug("commands: replied", "type", m.MessageType, "user", m.UserID, "group", m.GroupID)
	return nil
}
