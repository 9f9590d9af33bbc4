package chat

import (
	"sort"
	"strings"
	"sync"

	"ChatRelay/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ChannelKind uint8

const (
	KindUser ChannelKind = iota + 1
	KindConversation
)

// ChannelID 频道：用户私有频道或会话频道
type ChannelID struct {
	Kind ChannelKind
	ID   string
}

func UserChannel(userID string) ChannelID { return ChannelID{Kind: KindUser, ID: userID} }

func ConversationChannel(conversationID string) ChannelID {
	return ChannelID{Kind: KindConversation, ID: conversationID}
}

func (c ChannelID) String() string {
	switch c.Kind {
	case KindUser:
		return "user:" + c.ID
	case KindConversation:
		return "conv:" + c.ID
	default:
		return "unknown:" + c.ID
	}
}

// ParseChannelID String 的逆操作，跨节点桥接时使用
func ParseChannelID(s string) (ChannelID, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ChannelID{}, errors.Errorf("invalid channel %q", s)
	}
	switch kind {
	case "user":
		return UserChannel(id), nil
	case "conv":
		return ConversationChannel(id), nil
	default:
		return ChannelID{}, errors.Errorf("invalid channel kind %q", kind)
	}
}

// Transport 把编码好的帧投递到某条连接的发送队列。
// 必须非阻塞；连接不存在或已关闭时返回 false。
type Transport interface {
	Send(connID string, data []byte) bool
}

// Bridge 把频道广播转发给其他网关节点
type Bridge interface {
	Publish(channel string, data []byte) error
}

// Router 频道 -> 订阅连接。只保存连接ID，投递全部走 Transport。
type Router struct {
	mu        sync.RWMutex
	conns     map[string]map[ChannelID]struct{} // connID -> 已加入的频道
	subs      map[ChannelID]map[string]struct{} // 频道 -> connID
	transport Transport
	bridge    Bridge
}

func NewRouter(transport Transport) *Router {
	return &Router{
		conns:     make(map[string]map[ChannelID]struct{}),
		subs:      make(map[ChannelID]map[string]struct{}),
		transport: transport,
	}
}

// SetBridge 需在开始服务前调用
func (r *Router) SetBridge(b Bridge) { r.bridge = b }

// Attach 登记一条连接，使其能收到全局广播
func (r *Router) Attach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = make(map[ChannelID]struct{})
	}
}

// Detach 离开全部频道并注销连接
func (r *Router) Detach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveAllLocked(connID)
	delete(r.conns, connID)
}

// Join 重复加入为空操作
func (r *Router) Join(connID string, ch ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.conns[connID]
	if !ok {
		joined = make(map[ChannelID]struct{})
		r.conns[connID] = joined
	}
	joined[ch] = struct{}{}

	set := r.subs[ch]
	if set == nil {
		set = make(map[string]struct{})
		r.subs[ch] = set
	}
	set[connID] = struct{}{}
}

func (r *Router) Leave(connID string, ch ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, ch)
}

// LeaveAll 离开全部频道，连接仍保留全局广播资格
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveAllLocked(connID)
}

func (r *Router) leaveLocked(connID string, ch ChannelID) {
	if joined := r.conns[connID]; joined != nil {
		delete(joined, ch)
	}
	if set := r.subs[ch]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.subs, ch)
		}
	}
}

func (r *Router) leaveAllLocked(connID string) {
	for ch := range r.conns[connID] {
		r.leaveLocked(connID, ch)
	}
}

// Broadcast 投递给频道内所有连接，并转发给其他节点
func (r *Router) Broadcast(ch ChannelID, f *Frame) {
	r.BroadcastExcept(ch, f, "")
}

// BroadcastExcept 同 Broadcast，但跳过 exceptConnID（本节点连接）
func (r *Router) BroadcastExcept(ch ChannelID, f *Frame, exceptConnID string) {
	data, ok := encode(f)
	if !ok {
		return
	}
	r.deliver(r.subscribers(ch, exceptConnID), data)

	if r.bridge != nil {
		if err := r.bridge.Publish(ch.String(), data); err != nil {
			logger.Warn("[router] bridge publish failed", zap.Stringer("channel", ch), zap.Error(err))
		}
	}
}

// UnicastToUser 即 Broadcast(UserChannel(userID))
func (r *Router) UnicastToUser(userID string, f *Frame) {
	r.Broadcast(UserChannel(userID), f)
}

// BroadcastAll 投递给本节点所有连接（含未识别身份的连接），不跨节点
func (r *Router) BroadcastAll(f *Frame) {
	data, ok := encode(f)
	if !ok {
		return
	}
	r.mu.RLock()
	targets := make([]string, 0, len(r.conns))
	for id := range r.conns {
		targets = append(targets, id)
	}
	r.mu.RUnlock()
	r.deliver(targets, data)
}

// SendTo 只发给一条连接
func (r *Router) SendTo(connID string, f *Frame) {
	data, ok := encode(f)
	if !ok {
		return
	}
	r.deliver([]string{connID}, data)
}

// DeliverRemote 投递其他节点转发来的频道广播，只在本节点投递
func (r *Router) DeliverRemote(channel string, data []byte) {
	ch, err := ParseChannelID(channel)
	if err != nil {
		logger.Warn("[router] drop remote frame", zap.Error(err))
		return
	}
	r.deliver(r.subscribers(ch, ""), data)
}

// Subscribers 频道当前订阅者，升序
func (r *Router) Subscribers(ch ChannelID) []string {
	out := r.subscribers(ch, "")
	sort.Strings(out)
	return out
}

// Channels 连接当前加入的频道
func (r *Router) Channels(connID string) []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelID, 0, len(r.conns[connID]))
	for ch := range r.conns[connID] {
		out = append(out, ch)
	}
	return out
}

func (r *Router) Attached(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// subscribers 在读锁下拷贝订阅者，投递在锁外进行
func (r *Router) subscribers(ch ChannelID, except string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subs[ch]
	out := make([]string, 0, len(set))
	for id := range set {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) deliver(targets []string, data []byte) {
	for _, id := range targets {
		// 连接已断开或队列已满：静默跳过
		r.transport.Send(id, data)
	}
}

func encode(f *Frame) ([]byte, bool) {
	data, err := f.Encode()
	if err != nil {
		logger.Error("[router] encode frame failed", zap.String("event", f.Event), zap.Error(err))
		return nil, false
	}
	return data, true
}
