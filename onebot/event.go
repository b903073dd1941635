package onebot

import (
	"encoding/json"
	"fmt"
)

// Category is the top-level classification of an inbound event (post_type).
type Category string

const (
	CategoryMessage   Category = "message"
	CategoryNotice    Category = "notice"
	CategoryRequest   Category = "request"
	CategoryMetaEvent Category = "meta_event"
)

var categories = []Category{CategoryMessage, CategoryNotice, CategoryRequest, CategoryMetaEvent}

func (c Category) valid() bool {
	switch c {
	case CategoryMessage, CategoryNotice, CategoryRequest, CategoryMetaEvent:
		return true
	}
	return false
}

const (
	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"
)

// Event is one inbound event. The concrete type is one of *MessageEvent,
// *NoticeEvent, *RequestEvent or *MetaEvent.
type Event interface {
	Category() Category
	Raw() json.RawMessage
}

type base struct {
	Time   int64  `json:"time"`
	SelfID int64  `json:"self_id"`
	raw    []byte
}

func (b *base) Raw() json.RawMessage { return b.raw }

type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Age      int    `json:"age,omitempty"`
	Area     string `json:"area,omitempty"`
	Level    string `json:"level,omitempty"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
}

// MessageEvent is a private or group chat message. GroupID is 0 for private
// conversations.
type MessageEvent struct {
	base
	MessageType string          `json:"message_type"`
	SubType     string          `json:"sub_type"`
	MessageID   int64           `json:"message_id"`
	UserID      int64           `json:"user_id"`
	GroupID     int64           `json:"group_id"`
	Message     json.RawMessage `json:"message"`
	RawMessage  string          `json:"raw_message"`
	Font        int             `json:"font"`
	Sender      Sender          `json:"sender"`
	Anonymous   json.RawMessage `json:"anonymous,omitempty"`
	TempSource  int64           `json:"temp_source,omitempty"`
}

func (*MessageEvent) Category() Category { return CategoryMessage }

func (e *MessageEvent) IsPrivate() bool { return e.MessageType == MessageTypePrivate }

func (e *MessageEvent) IsGroup() bool { return e.MessageType == MessageTypeGroup }

type NoticeEvent struct {
	base
	NoticeType string `json:"notice_type"`
	SubType    string `json:"sub_type"`
	UserID     int64  `json:"user_id"`
	GroupID    int64  `json:"group_id"`
	OperatorID int64  `json:"operator_id"`
}

func (*NoticeEvent) Category() Category { return CategoryNotice }

type RequestEvent struct {
	base
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id"`
	Comment     string `json:"comment"`
	Flag        string `json:"flag"`
}

func (*RequestEvent) Category() Category { return CategoryRequest }

type MetaEvent struct {
	base
	MetaEventType string          `json:"meta_event_type"`
	SubType       string          `json:"sub_type"`
	Interval      int64           `json:"interval"`
	Status        json.RawMessage `json:"status,omitempty"`
}

func (*MetaEvent) Category() Category { return CategoryMetaEvent }

// ParseEvent builds the typed event for a frame of the given category.
func ParseEvent(cat Category, data []byte) (Event, error) {
	var ev Event
	switch cat {
	case CategoryMessage:
		m := &MessageEvent{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("decode message event: %w", err)
		}
		m.raw = data
		ev = m
	case CategoryNotice:
		n := &NoticeEvent{}
		if err := json.Unmarshal(data, n); err != nil {
			return nil, fmt.Errorf("decode notice event: %w", err)
		}
		n.raw = data
		ev = n
	case CategoryRequest:
		r := &RequestEvent{}
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("decode request event: %w", err)
		}
		r.raw = data
		ev = r
	case CategoryMetaEvent:
		m := &MetaEvent{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("decode meta event: %w", err)
		}
		m.raw = data
		ev = m
	default:
		return nil, fmt.Errorf("unknown post_type %q", cat)
	}
	return ev, nil
}
