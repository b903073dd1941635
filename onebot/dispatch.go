package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// dispatch classifies one inbound frame. Responses settle their pending call;
// events are routed to matching bindings. Nothing here returns an error:
// bad frames are logged and skipped so the read loop keeps going.
func (c *Client) dispatch(ctx context.Context, frame []byte) {
	var h frameHeader
	if err := json.Unmarshal(frame, &h); err != nil {
		slog.Warn("onebot: malformed frame", "err", err, "len", len(frame))
		return
	}

	if h.PostType != "" {
		cat := Category(h.PostType)
		if !cat.valid() {
			slog.Warn("onebot: unknown post_type, dropping frame", "post_type", h.PostType)
			return
		}
		ev, err := ParseEvent(cat, frame)
		if err != nil {
			slog.Warn("onebot: malformed event", "post_type", h.PostType, "err", err)
			return
		}
		logEvent(ev)
		c.route(ctx, ev)
		return
	}

	if echo := h.echo(); echo != "" {
		c.settle(echo, frame)
		return
	}

	slog.Warn("onebot: frame has neither post_type nor echo, dropping", "len", len(frame))
}

func (c *Client) settle(echo string, frame []byte) {
	var wire struct {
		Response
		Echo json.RawMessage `json:"echo"`
	}
	if err := json.Unmarshal(frame, &wire); err != nil {
		slog.Warn("onebot: malformed response", "echo", echo, "err", err)
		c.pending.fail(echo, fmt.Errorf("onebot: decode response: %w", err))
		return
	}
	resp := wire.Response
	resp.Echo = echo
	if !c.pending.resolve(echo, resp) {
		slog.Debug("onebot: response for unknown echo discarded", "echo", echo)
	}
}

// route starts one goroutine per matching binding so that slow handlers never
// hold up the read loop.
func (c *Client) route(ctx context.Context, ev Event) {
	for _, b := range c.registry.match(ev) {
		c.handlers.Add(1)
		go c.runHandler(ctx, b, ev)
	}
}

func (c *Client) runHandler(ctx context.Context, b Binding, ev Event) {
	defer c.handlers.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("onebot: handler panicked", "handler", b.Name, "category", ev.Category(), "panic", r)
		}
	}()

	if err := b.Handler(ctx, c, ev); err != nil {
		slog.Error("onebot: handler failed", "handler", b.Name, "category", ev.Category(), "err", err)
	}
}

func logEvent(ev Event) {
	switch e := ev.(type) {
	case *MessageEvent:
		slog.Debug("onebot: message", "type", e.MessageType, "user_id", e.UserID, "group_id", e.GroupID, "message_id", e.MessageID)
	case *NoticeEvent:
		slog.Info("onebot: notice", "notice_type", e.NoticeType, "group_id", e.GroupID, "user_id", e.UserID)
	case *RequestEvent:
		slog.Info("onebot: request", "request_type", e.RequestType, "user_id", e.UserID)
	case *MetaEvent:
		slog.Debug("onebot: meta event", "meta_event_type", e.MetaEventType)
	}
}
