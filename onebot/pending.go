package onebot

import (
	"context"
	"sync"
	"time"
)

type callResult struct {
	resp Response
	err  error
}

type pendingCall struct {
	echo   string
	result chan callResult // buffered, receives at most one value
}

// pendingTable maps outstanding echo tokens to their result slots. An entry is
// removed by whichever of resolve, fail or remove reaches it first, so a
// token is settled at most once.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

func (t *pendingTable) register(echo string) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[echo]; ok {
		return nil, ErrDuplicateToken
	}
	call := &pendingCall{echo: echo, result: make(chan callResult, 1)}
	t.calls[echo] = call
	return call, nil
}

func (t *pendingTable) take(echo string) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[echo]
	if ok {
		delete(t.calls, echo)
	}
	return call, ok
}

// resolve delivers resp to the waiting call. It reports false for unknown or
// already settled tokens.
func (t *pendingTable) resolve(echo string, resp Response) bool {
	call, ok := t.take(echo)
	if !ok {
		return false
	}
	call.result <- callResult{resp: resp}
	return true
}

func (t *pendingTable) fail(echo string, err error) bool {
	call, ok := t.take(echo)
	if !ok {
		return false
	}
	call.result <- callResult{resp: FailedResponse(), err: err}
	return true
}

func (t *pendingTable) remove(echo string) {
	t.take(echo)
}

// failAll settles every outstanding call with err.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.result <- callResult{resp: FailedResponse(), err: err}
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// await blocks until the call is settled, the timeout elapses or ctx is done.
// On timeout the entry is purged and ErrTimeout returned.
func (t *pendingTable) await(ctx context.Context, call *pendingCall, timeout time.Duration) (Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-call.result:
		return r.resp, r.err
	case <-timer.C:
		t.remove(call.echo)
		return FailedResponse(), ErrTimeout
	case <-ctx.Done():
		t.remove(call.echo)
		return FailedResponse(), ctx.Err()
	}
}
