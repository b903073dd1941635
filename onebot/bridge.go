package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Call issues an action and blocks until its response arrives. It may be
// called from any goroutine. The returned Response is FailedResponse whenever
// err is non-nil; err is one of ErrNotConnected, ErrTimeout, ErrClosed, a
// *TransportError or a context error.
func (c *Client) Call(ctx context.Context, action string, params any) (Response, error) {
	if !c.Connected() {
		return FailedResponse(), ErrNotConnected
	}
	if m, ok := params.(map[string]any); params == nil || (ok && m == nil) {
		params = map[string]any{}
	}

	echo := echoToken(c.nextEcho.Add(1))
	call, err := c.pending.register(echo)
	if err != nil {
		return FailedResponse(), err
	}
	defer c.pending.remove(echo)

	data, err := json.Marshal(Request{Action: action, Params: params, Echo: echo})
	if err != nil {
		return FailedResponse(), fmt.Errorf("onebot: encode %s: %w", action, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.BridgeTimeout)
	err = c.send(sendCtx, data)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = ErrTimeout
	}
	if err != nil {
		c.pending.fail(echo, err)
		return FailedResponse(), err
	}

	return c.pending.await(ctx, call, c.opts.ActionTimeout)
}

// Invoke is Call with every failure folded into the response: callers only
// see either the gateway's answer or {status: failed, retcode: -1}.
func (c *Client) Invoke(ctx context.Context, action string, params any) Response {
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		slog.Warn("onebot: action failed", "action", action, "err", err)
		return FailedResponse()
	}
	return resp
}
