package chat

import (
	"context"
	"encoding/json"

	"ChatRelay/logger"
	"ChatRelay/tools/decode"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

type userData struct {
	ID string `json:"_id"`
}

// messageRef 消息中路由需要的字段，其余内容原样转发
type messageRef struct {
	Chat   string   `json:"chat"`
	Sender userData `json:"sender"`
}

func readRoom(data json.RawMessage) (string, error) {
	room, err := decode.ReadString(data)
	if err != nil {
		return "", errs.ErrMalformedPayload.WrapMsg(err.Error(), "field", "room")
	}
	return room, nil
}

// ---- setup ----

type setupHandler struct{ r *Relay }

func (h *setupHandler) Event() string { return EventSetup }

func (h *setupHandler) Handle(_ context.Context, sess *Session, data json.RawMessage) error {
	u, err := decode.DecodeJSON[userData](data)
	if err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error(), "event", EventSetup)
	}
	if u.ID == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing _id", "event", EventSetup)
	}

	r := h.r
	prev, identified := sess.UserID()
	switch {
	case identified && prev == u.ID:
		// 同一身份重复 setup：在线计数不变，重新下发快照与回执
	case identified:
		// 换身份：先释放旧身份的频道与在线计数
		r.router.Leave(sess.ConnID, UserChannel(prev))
		r.presence.MarkOffline(prev)
		logger.Info("[relay] session re-identified",
			zap.String("conn", sess.ConnID), zap.String("from", prev), zap.String("to", u.ID))
		fallthrough
	default:
		sess.identify(u.ID)
		r.router.Join(sess.ConnID, UserChannel(u.ID))
		r.presence.MarkOnline(u.ID)
	}

	logger.Info("[relay] user joined room", zap.String("conn", sess.ConnID), zap.String("user", u.ID))
	r.broadcastPresence()
	r.router.SendTo(sess.ConnID, BuildConnectionAck())
	return nil
}

// ---- join chat ----

type joinChatHandler struct{ r *Relay }

func (h *joinChatHandler) Event() string { return EventJoinChat }

func (h *joinChatHandler) Handle(_ context.Context, sess *Session, data json.RawMessage) error {
	room, err := readRoom(data)
	if err != nil {
		return err
	}
	h.r.router.Join(sess.ConnID, ConversationChannel(room))
	logger.Debug("[relay] joined chat room", zap.String("conn", sess.ConnID), zap.String("room", room))
	return nil
}

// ---- new message ----

type newMessageHandler struct{ r *Relay }

func (h *newMessageHandler) Event() string { return EventNewMessage }

func (h *newMessageHandler) Handle(ctx context.Context, sess *Session, data json.RawMessage) error {
	ref, err := decode.DecodeJSON[messageRef](data)
	if err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error(), "event", EventNewMessage)
	}
	if ref.Chat == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing chat", "event", EventNewMessage)
	}
	if ref.Sender.ID == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing sender._id", "event", EventNewMessage)
	}

	r := h.r
	lctx, cancel := context.WithTimeout(ctx, r.conf.LookupTimeout)
	conv, err := r.lookup.GetConversation(lctx, ref.Chat)
	cancel()
	if err != nil {
		if errs.Code(err) == 0 {
			err = errs.ErrLookupTransport.WrapCause(err, "chat", ref.Chat)
		}
		return err
	}

	r.router.Broadcast(ConversationChannel(ref.Chat), &Frame{Event: EventMessageReceived, Data: data})

	notify := &Frame{Event: EventNewMessageNotification, Data: data}
	seen := make(map[string]struct{}, len(conv.ParticipantUserIDs))
	for _, u := range conv.ParticipantUserIDs {
		if u == ref.Sender.ID {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		r.router.UnicastToUser(u, notify)
	}
	logger.Debug("[relay] message relayed",
		zap.String("conn", sess.ConnID), zap.String("chat", ref.Chat), zap.Int("notified", len(seen)))
	return nil
}

// ---- typing / stop typing ----

// signalHandler 把无负载信号转发给同房间的其他连接
type signalHandler struct {
	r     *Relay
	event string
}

func (h *signalHandler) Event() string { return h.event }

func (h *signalHandler) Handle(_ context.Context, sess *Session, data json.RawMessage) error {
	room, err := readRoom(data)
	if err != nil {
		return err
	}
	h.r.router.BroadcastExcept(ConversationChannel(room), BuildSignal(h.event), sess.ConnID)
	return nil
}
