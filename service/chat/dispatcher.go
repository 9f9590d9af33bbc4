package chat

import (
	"context"
	"encoding/json"

	"ChatRelay/tools/errs"
)

// Handler 处理一种入站事件
type Handler interface {
	Event() string
	Handle(ctx context.Context, sess *Session, data json.RawMessage) error
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, f *Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errs.ErrUnknownEvent.WrapMsg("", "event", f.Event)
	}
	return h.Handle(ctx, sess, f.Data)
}
