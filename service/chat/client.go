package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ChatRelay/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WsConn 一条 WebSocket 连接。
// 所有写都经由 send 队列交给唯一的写协程（gorilla/websocket 不支持并发写）。
type WsConn struct {
	ID        string
	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time

	mu      sync.RWMutex
	send    chan []byte
	closed  bool
	dropped atomic.Int64
}

func newWsConn(id string, ws *websocket.Conn, queueSize int, now time.Time) *WsConn {
	c := &WsConn{
		ID:        id,
		Conn:      ws,
		CreatedAt: now,
		send:      make(chan []byte, queueSize),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

// enqueue 非阻塞入队；连接已关闭或队列已满返回 false
func (c *WsConn) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// close 关闭发送队列，写协程发完剩余帧后关闭底层连接
func (c *WsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WsConn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Dropped 因队列满被丢弃的帧数
func (c *WsConn) Dropped() int64 { return c.dropped.Load() }

// writePump 写协程：业务帧 + 定时 ping
func (c *WsConn) writePump(conf ManagerConf) {
	ticker := time.NewTicker(conf.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("[WS] write payload err", zap.String("conn", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(conf.WriteWait)); err != nil {
				logger.Info("[WS] ping err", zap.String("conn", c.ID), zap.Error(err))
				return
			}
		}
	}
}

// readLoop 读协程：只读不写，出错即返回。
// 超过 PongWait 没有任何入站数据（含 pong）视为连接已死。
func (c *WsConn) readLoop(conf ManagerConf, onMessage func(data []byte)) {
	c.Conn.SetReadLimit(conf.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(conf.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(conf.PongWait))
	})

	for {
		mt, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Info("[WS] peer closed", zap.String("conn", c.ID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("[WS] read timeout", zap.String("conn", c.ID), zap.Error(err))
			} else {
				logger.Info("[WS] read err", zap.String("conn", c.ID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(conf.PongWait))
		onMessage(data)
	}
}
