package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"ChatRelay/module/chat/model"

	"github.com/stretchr/testify/require"
)

// fakeTransport 按连接记录收到的帧
type fakeTransport struct {
	mu     sync.Mutex
	frames map[string][]Frame
	gone   map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(map[string][]Frame), gone: make(map[string]bool)}
}

func (t *fakeTransport) Send(connID string, data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gone[connID] {
		return false
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		panic(err)
	}
	t.frames[connID] = append(t.frames[connID], f)
	return true
}

func (t *fakeTransport) kill(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone[connID] = true
}

// take 取出并清空该连接收到的帧
func (t *fakeTransport) take(connID string) []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.frames[connID]
	delete(t.frames, connID)
	return out
}

func (t *fakeTransport) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fs := range t.frames {
		n += len(fs)
	}
	return n
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = make(map[string][]Frame)
}

func eventsOf(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func onlineUsersOf(t *testing.T, f Frame) []string {
	t.Helper()
	require.Equal(t, EventOnlineUsers, f.Event)
	var users []string
	require.NoError(t, json.Unmarshal(f.Data, &users))
	return users
}

type lookupFunc func(ctx context.Context, id string) (*model.Conversation, error)

func (f lookupFunc) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return f(ctx, id)
}

type harness struct {
	t     *testing.T
	tr    *fakeTransport
	store *model.MemoryChatStore
	relay *Relay
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, tr: newFakeTransport(), store: model.NewMemoryChatStore()}
	h.relay = NewRelay(NewPresence(nil), NewRouter(h.tr), h.store, RelayConf{})
	return h
}

func newHarnessWithLookup(t *testing.T, lookup model.ConversationLookup) *harness {
	h := &harness{t: t, tr: newFakeTransport()}
	h.relay = NewRelay(NewPresence(nil), NewRouter(h.tr), lookup, RelayConf{})
	return h
}

func (h *harness) connect(connID string) *Session {
	return h.relay.Connect(connID)
}

// emit 以客户端身份发送一个事件；json.RawMessage 原样作为负载
func (h *harness) emit(sess *Session, event string, data any) {
	h.t.Helper()
	f := &Frame{Event: event}
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		f.Data = v
	default:
		b, err := json.Marshal(v)
		require.NoError(h.t, err)
		f.Data = b
	}
	h.relay.Handle(context.Background(), sess, f)
}

// identify 连接并 setup，清掉产生的帧
func (h *harness) identify(connID, userID string) *Session {
	sess := h.connect(connID)
	h.emit(sess, EventSetup, map[string]string{"_id": userID})
	h.tr.reset()
	return sess
}
