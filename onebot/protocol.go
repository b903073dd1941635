package onebot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	StatusOK     = "ok"
	StatusAsync  = "async"
	StatusFailed = "failed"

	// FailedRetCode is the retcode carried by every locally produced failure.
	FailedRetCode = -1
)

var (
	ErrNotConnected   = errors.New("onebot: not connected")
	ErrTimeout        = errors.New("onebot: timed out waiting for response")
	ErrDuplicateToken = errors.New("onebot: duplicate echo token")
	ErrClosed         = errors.New("onebot: client closed")
)

// Request is an outgoing action frame.
type Request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

// Response is the gateway's reply to a Request, matched by Echo.
type Response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Echo    string          `json:"echo,omitempty"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
}

// FailedResponse is the uniform shape of a call that never got a usable answer.
func FailedResponse() Response {
	return Response{Status: StatusFailed, RetCode: FailedRetCode}
}

func (r Response) OK() bool {
	return (r.Status == StatusOK || r.Status == StatusAsync) && r.RetCode == 0
}

// Decode unmarshals the data payload into v. A missing payload leaves v untouched.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns nil for a successful response and an *ActionError otherwise.
func (r Response) Err(action string) error {
	if r.OK() {
		return nil
	}
	return &ActionError{Action: action, Status: r.Status, RetCode: r.RetCode, Message: r.Message}
}

// ActionError reports a response whose status was not ok.
type ActionError struct {
	Action  string
	Status  string
	RetCode int
	Message string
}

func (e *ActionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot: %s failed: status=%s retcode=%d: %s", e.Action, e.Status, e.RetCode, e.Message)
	}
	return fmt.Sprintf("onebot: %s failed: status=%s retcode=%d", e.Action, e.Status, e.RetCode)
}

// TransportError wraps a read or write failure on the socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("onebot: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// frameHeader is the type-peek for inbound frames.
type frameHeader struct {
	PostType string          `json:"post_type"`
	Echo     json.RawMessage `json:"echo"`
}

// echo returns the correlation token as a string. Gateways echo back whatever
// was sent, but some stringify numbers, so both forms are accepted.
func (h frameHeader) echo() string {
	if len(h.Echo) == 0 || string(h.Echo) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(h.Echo, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(h.Echo, &n); err == nil {
		return n.String()
	}
	return ""
}

func echoToken(n int64) string {
	return "echo_" + strconv.FormatInt(n, 10)
}
