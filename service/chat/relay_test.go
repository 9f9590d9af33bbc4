package chat

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"ChatRelay/module/chat/model"
	"ChatRelay/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRelay_SetupAcksAndBroadcastsPresence(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	anon := h.connect("anon")
	a := h.connect("a")

	h.emit(a, EventSetup, map[string]string{"_id": "A"})

	got := h.tr.take("a")
	req.Equal([]string{EventOnlineUsers, EventConnection}, eventsOf(got))
	req.Equal([]string{"A"}, onlineUsersOf(t, got[0]))

	// 未 setup 的连接同样收到在线列表
	anonGot := h.tr.take(anon.ConnID)
	req.Len(anonGot, 1)
	req.Equal([]string{"A"}, onlineUsersOf(t, anonGot[0]))

	uid, ok := a.UserID()
	req.True(ok)
	req.Equal("A", uid)
	req.Equal(StateIdentified, a.State())
	req.Equal([]string{"a"}, h.relay.Router().Subscribers(UserChannel("A")))
}

func TestRelay_SetupWithoutIDIsDropped(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")

	h.emit(a, EventSetup, map[string]string{"name": "nobody"})
	h.emit(a, EventSetup, "not-an-object")

	require.Zero(t, h.tr.total())
	require.Equal(t, StateConnected, a.State())
}

func TestRelay_SameUserSetupTwiceKeepsCount(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	a := h.identify("a", "A")

	h.emit(a, EventSetup, map[string]string{"_id": "A"})

	req.Equal([]string{EventOnlineUsers, EventConnection}, eventsOf(h.tr.take("a")))
	req.Equal(1, h.relay.Presence().Count("A"))
}

func TestRelay_ReidentifyReleasesPreviousUser(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	a := h.identify("a", "A")

	h.emit(a, EventSetup, map[string]string{"_id": "B"})

	got := h.tr.take("a")
	req.Equal([]string{EventOnlineUsers, EventConnection}, eventsOf(got))
	req.Equal([]string{"B"}, onlineUsersOf(t, got[0]))
	req.Empty(h.relay.Router().Subscribers(UserChannel("A")))
	req.Equal([]string{"a"}, h.relay.Router().Subscribers(UserChannel("B")))
	req.False(h.relay.Presence().IsOnline("A"))
}

func TestRelay_JoinChatTwiceDeliversOnce(t *testing.T) {
	h := newHarness(t)
	h.store.Put("c1", "A", "B")
	a := h.identify("a", "A")
	b := h.identify("b", "B")

	h.emit(a, EventJoinChat, "c1")
	h.emit(a, EventJoinChat, "c1")
	h.emit(b, EventNewMessage, json.RawMessage(`{"chat":"c1","sender":{"_id":"B"}}`))

	require.Equal(t, []string{EventMessageReceived, EventNewMessageNotification}, eventsOf(h.tr.take("a")))
}

func TestRelay_NewMessageFanOut(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.store.Put("c1", "A", "B", "C")
	a := h.identify("a", "A")
	b := h.identify("b", "B")
	h.identify("c", "C")
	h.emit(a, EventJoinChat, "c1")
	h.emit(b, EventJoinChat, "c1")

	msg := json.RawMessage(`{"_id":"m1","chat":"c1","sender":{"_id":"B","name":"bob"},"content":"hi"}`)
	h.emit(b, EventNewMessage, msg)

	// 房间里每条连接一条 messageR（含发送者），通知发给除发送者外的参与者
	aGot := h.tr.take("a")
	req.Equal([]string{EventMessageReceived, EventNewMessageNotification}, eventsOf(aGot))
	req.JSONEq(string(msg), string(aGot[0].Data))
	req.JSONEq(string(msg), string(aGot[1].Data))

	req.Equal([]string{EventMessageReceived}, eventsOf(h.tr.take("b")))
	req.Equal([]string{EventNewMessageNotification}, eventsOf(h.tr.take("c")))
}

func TestRelay_NewMessageForwardsPayloadUnchanged(t *testing.T) {
	h := newHarness(t)
	h.store.Put("c1", "A", "B")
	a := h.identify("a", "A")
	h.emit(a, EventJoinChat, "c1")

	msg := json.RawMessage(`{"chat":"c1","sender":{"_id":"A"},"n":1.50,"extra":[1,"x",null]}`)
	h.emit(a, EventNewMessage, msg)

	got := h.tr.take("a")
	require.Len(t, got, 1)
	require.Equal(t, string(msg), string(got[0].Data))
}

func TestRelay_NewMessageDuplicateParticipantsNotifiedOnce(t *testing.T) {
	h := newHarness(t)
	h.store.Put("c1", "A", "B", "A")
	h.identify("a", "A")
	b := h.identify("b", "B")

	h.emit(b, EventNewMessage, json.RawMessage(`{"chat":"c1","sender":{"_id":"B"}}`))

	require.Equal(t, []string{EventNewMessageNotification}, eventsOf(h.tr.take("a")))
}

func TestRelay_NewMessageUnknownChatEmitsNothing(t *testing.T) {
	h := newHarness(t)
	a := h.identify("a", "A")
	h.identify("b", "B")
	h.emit(a, EventJoinChat, "missing")

	h.emit(a, EventNewMessage, json.RawMessage(`{"chat":"missing","sender":{"_id":"A"}}`))

	require.Zero(t, h.tr.total())
}

func TestRelay_NewMessageMalformedSkipsLookup(t *testing.T) {
	var calls atomic.Int32
	h := newHarnessWithLookup(t, lookupFunc(func(context.Context, string) (*model.Conversation, error) {
		calls.Add(1)
		return &model.Conversation{ID: "c1", ParticipantUserIDs: []string{"A"}}, nil
	}))
	a := h.identify("a", "A")
	h.emit(a, EventJoinChat, "c1")

	h.emit(a, EventNewMessage, json.RawMessage(`{"chat":"c1"}`))
	h.emit(a, EventNewMessage, json.RawMessage(`{"sender":{"_id":"A"}}`))
	h.emit(a, EventNewMessage, json.RawMessage(`"just text"`))
	h.emit(a, EventNewMessage, nil)

	require.Zero(t, calls.Load())
	require.Zero(t, h.tr.total())
}

func TestRelay_NewMessageLookupTransportError(t *testing.T) {
	h := newHarnessWithLookup(t, lookupFunc(func(ctx context.Context, _ string) (*model.Conversation, error) {
		_, ok := ctx.Deadline()
		require.True(t, ok, "lookup must be bounded")
		return nil, errors.New("connection refused")
	}))
	a := h.identify("a", "A")
	h.emit(a, EventJoinChat, "c1")

	h.emit(a, EventNewMessage, json.RawMessage(`{"chat":"c1","sender":{"_id":"A"}}`))

	require.Zero(t, h.tr.total())
}

func TestRelay_PanicInHandlerIsContained(t *testing.T) {
	req := require.New(t)
	h := newHarnessWithLookup(t, lookupFunc(func(context.Context, string) (*model.Conversation, error) {
		panic("driver bug")
	}))
	a := h.identify("a", "A")
	b := h.identify("b", "B")
	h.emit(a, EventJoinChat, "c1")
	h.emit(b, EventJoinChat, "c1")

	req.NotPanics(func() {
		h.emit(a, EventNewMessage, json.RawMessage(`{"chat":"c1","sender":{"_id":"A"}}`))
	})
	req.Zero(h.tr.total())

	// 连接继续可用
	h.emit(a, EventTyping, "c1")
	req.Equal([]string{EventTyping}, eventsOf(h.tr.take("b")))
}

func TestRelay_TypingNotEchoedToSender(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	a := h.identify("a", "A")
	b := h.identify("b", "B")
	c := h.identify("c", "C")
	for _, s := range []*Session{a, b, c} {
		h.emit(s, EventJoinChat, "c1")
	}

	h.emit(a, EventTyping, "c1")
	h.emit(a, EventStopTyping, "c1")

	req.Empty(h.tr.take("a"))
	req.Equal([]string{EventTyping, EventStopTyping}, eventsOf(h.tr.take("b")))
	got := h.tr.take("c")
	req.Equal([]string{EventTyping, EventStopTyping}, eventsOf(got))
	req.Empty(got[0].Data)
}

func TestRelay_UnknownEventIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.identify("a", "A")

	h.emit(a, "read receipt", map[string]string{"chat": "c1"})

	require.Zero(t, h.tr.total())
	require.Equal(t, StateIdentified, a.State())
}

func TestRelay_MultiConnectionPresence(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	phone := h.identify("phone", "A")
	laptop := h.identify("laptop", "A")
	h.identify("b", "B")

	h.relay.Disconnect(phone)

	// A 仍有一条连接：在线列表不变，不广播
	req.True(h.relay.Presence().IsOnline("A"))
	req.Zero(h.tr.total())
	req.Equal([]string{"laptop"}, h.relay.Router().Subscribers(UserChannel("A")))

	h.relay.Disconnect(laptop)

	got := h.tr.take("b")
	req.Len(got, 1)
	req.Equal([]string{"B"}, onlineUsersOf(t, got[0]))
	req.False(h.relay.Presence().IsOnline("A"))
}

func TestRelay_DisconnectIsIdempotent(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	a := h.identify("a", "A")
	h.identify("b", "B")
	h.emit(a, EventJoinChat, "c1")

	h.relay.Disconnect(a)
	h.relay.Disconnect(a)

	req.Len(h.tr.take("b"), 1)
	req.True(a.Closed())
	req.False(h.relay.Router().Attached("a"))
	req.Empty(h.relay.Router().Subscribers(ConversationChannel("c1")))

	// 断开后的帧被忽略
	h.emit(a, EventSetup, map[string]string{"_id": "A"})
	req.Zero(h.tr.total())
	req.False(h.relay.Presence().IsOnline("A"))
}

func TestRelay_AnonymousDisconnectDoesNotBroadcast(t *testing.T) {
	h := newHarness(t)
	h.identify("b", "B")
	anon := h.connect("anon")

	h.relay.Disconnect(anon)

	require.Zero(t, h.tr.total())
	require.Equal(t, []string{"B"}, h.relay.Presence().Snapshot())
}

func TestRelay_LogDroppedClassification(t *testing.T) {
	sess := newSession("x", time.Now())
	// 只验证各类错误都能走到日志而不 panic
	for _, err := range []error{
		errs.ErrMalformedPayload.WrapMsg("bad"),
		errs.ErrUnknownEvent.WrapMsg(""),
		errs.ErrLookupNotFound.WrapMsg(""),
		errs.ErrLookupTransport.WrapCause(errors.New("io")),
		errors.New("plain"),
	} {
		require.NotPanics(t, func() { logDropped(sess, "e", err) })
	}
}
