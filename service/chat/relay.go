package chat

import (
	"context"
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/module/chat/model"
	"ChatRelay/tools/errs"
	"ChatRelay/tools/safe"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

type RelayConf struct {
	LookupTimeout time.Duration    // 单次会话查询超时
	Clock         func() time.Time // nil => time.Now
}

func (c *RelayConf) norm() {
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Relay 协议状态机：按会话状态解释入站事件，经 Router 产生出站事件。
// Handle 对同一会话必须串行调用（由连接的读协程保证）。
type Relay struct {
	presence *Presence
	router   *Router
	lookup   model.ConversationLookup
	disp     *Dispatcher
	conf     RelayConf

	// 快照与全局投递在同一把锁内完成，各连接收到的在线列表顺序一致，最后一帧即最新状态
	presenceMu sync.Mutex
}

func NewRelay(presence *Presence, router *Router, lookup model.ConversationLookup, conf RelayConf) *Relay {
	conf.norm()
	r := &Relay{
		presence: presence,
		router:   router,
		lookup:   lookup,
		disp:     NewDispatcher(),
		conf:     conf,
	}
	r.disp.Register(&setupHandler{r: r})
	r.disp.Register(&joinChatHandler{r: r})
	r.disp.Register(&newMessageHandler{r: r})
	r.disp.Register(&signalHandler{r: r, event: EventTyping})
	r.disp.Register(&signalHandler{r: r, event: EventStopTyping})
	return r
}

func (r *Relay) Presence() *Presence { return r.presence }

func (r *Relay) Router() *Router { return r.router }

// Connect 新连接建立：创建会话并登记到全局广播
func (r *Relay) Connect(connID string) *Session {
	r.router.Attach(connID)
	return newSession(connID, r.conf.Clock())
}

// Handle 处理一个入站帧。错误和 panic 只记录日志，不回传给客户端，也不影响连接。
func (r *Relay) Handle(ctx context.Context, sess *Session, f *Frame) {
	if sess.Closed() {
		return
	}
	glog.V(2).Infof("[relay] conn=%s state=%s event=%q", sess.ConnID, sess.State(), f.Event)

	err := safe.Run(f.Event, func() error {
		return r.disp.Dispatch(ctx, sess, f)
	})
	if err != nil {
		logDropped(sess, f.Event, err)
	}
}

// Disconnect 释放会话占用的频道与在线计数；重复调用无副作用
func (r *Relay) Disconnect(sess *Session) {
	if sess.Closed() {
		return
	}
	userID, identified := sess.UserID()
	sess.close()

	r.router.Detach(sess.ConnID)
	if !identified {
		logger.Debug("[relay] anonymous socket disconnected", zap.String("conn", sess.ConnID))
		return
	}
	if r.presence.MarkOffline(userID) {
		r.broadcastPresence()
		logger.Info("[relay] user removed from onlineUsers", zap.String("user", userID))
	} else {
		logger.Info("[relay] socket disconnected, user still online",
			zap.String("user", userID), zap.Int("connections", r.presence.Count(userID)))
	}
}

// broadcastPresence 取在线快照并投递给本节点所有连接
func (r *Relay) broadcastPresence() {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()
	r.router.BroadcastAll(BuildOnlineUsers(r.presence.Snapshot()))
}

func logDropped(sess *Session, event string, err error) {
	fields := []zap.Field{
		zap.String("conn", sess.ConnID),
		zap.String("event", event),
		zap.Error(err),
	}
	switch errs.Code(err) {
	case errs.CodeMalformedPayload, errs.CodeUnknownEvent, errs.CodeLookupNotFound:
		logger.Warn("[relay] event dropped", fields...)
	default:
		logger.Error("[relay] event dropped", fields...)
	}
}
