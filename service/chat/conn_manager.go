package chat

import (
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	SendQueueSize  int              // 每连接发送队列长度
	WriteWait      time.Duration    // 单次写超时
	PongWait       time.Duration    // 读空闲上限，超时即判定断线
	PingPeriod     time.Duration    // ping 周期，必须小于 PongWait
	MaxMessageSize int64            // 单帧上限
	Clock          func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
}

// ConnManager 本节点的存活连接表，同时是 Router 的 Transport
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn // snowID -> conn

	conf ManagerConf
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		bySnow: make(map[string]*WsConn),
		conf:   conf,
	}
}

func (m *ConnManager) Conf() ManagerConf { return m.conf }

// Add 登记新连接并分配 snowID；写协程由调用方启动
func (m *ConnManager) Add(ws *websocket.Conn) *WsConn {
	c := newWsConn(ids.GenerateString(), ws, m.conf.SendQueueSize, m.conf.Clock())
	m.mu.Lock()
	m.bySnow[c.ID] = c
	m.mu.Unlock()
	return c
}

// Remove 注销并关闭发送队列；幂等
func (m *ConnManager) Remove(snowID string) {
	m.mu.Lock()
	c, ok := m.bySnow[snowID]
	delete(m.bySnow, snowID)
	m.mu.Unlock()
	if ok {
		c.close()
	}
}

func (m *ConnManager) Get(snowID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySnow[snowID]
	return c, ok
}

// Send 实现 Transport：非阻塞投递到该连接的发送队列
func (m *ConnManager) Send(snowID string, data []byte) bool {
	c, ok := m.Get(snowID)
	if !ok {
		return false
	}
	if c.enqueue(data) {
		return true
	}
	if !c.Closed() {
		logger.Warn("[conn] send queue full, frame dropped",
			zap.String("conn", snowID), zap.Int64("dropped", c.Dropped()))
	}
	return false
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Close 关闭所有连接（写协程会发送 close 帧）
func (m *ConnManager) Close() {
	m.mu.Lock()
	all := m.bySnow
	m.bySnow = make(map[string]*WsConn)
	m.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}
