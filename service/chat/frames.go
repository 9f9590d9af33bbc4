package chat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// 入站事件
const (
	EventSetup      = "setup"
	EventJoinChat   = "join chat"
	EventNewMessage = "new message"
	EventTyping     = "typing"
	EventStopTyping = "stop typing"
)

// 出站事件
const (
	EventConnection             = "connection"
	EventOnlineUsers            = "onlineUsers"
	EventMessageReceived        = "messageR"
	EventNewMessageNotification = "newMessageNotification"
)

// Frame 线上帧：{"event": "...", "data": <任意JSON>}，上下行同构
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame failed")
	}
	if f.Event == "" {
		return nil, errors.New("frame has no event name")
	}
	return f, nil
}

// NewFrame payload 为 nil 时不带 data
func NewFrame(event string, payload any) (*Frame, error) {
	f := &Frame{Event: event}
	if payload == nil {
		return f, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		f.Data = raw
		return f, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", event)
	}
	f.Data = b
	return f, nil
}

func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ---- 构造若干服务端帧 ----

func BuildConnectionAck() *Frame {
	return &Frame{Event: EventConnection}
}

func BuildOnlineUsers(users []string) *Frame {
	if users == nil {
		users = []string{}
	}
	f, _ := NewFrame(EventOnlineUsers, users)
	return f
}

func BuildSignal(event string) *Frame {
	return &Frame{Event: event}
}
