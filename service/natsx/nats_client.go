package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"ChatRelay/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsxClient 核心模式（无持久化）客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	mws []NatsxMiddleware

	mu   sync.Mutex
	subs map[string]*nats.Subscription // subject -> sub
}

// NewNatsxClient 连接 NATS，断线无限重连
func NewNatsxClient(cfg NatsxConfig, mws ...NatsxMiddleware) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[natsx] disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[natsx] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return &NatsxClient{
		cfg:  cfg,
		nc:   nc,
		mws:  mws,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish 核心模式发送，hdr 可为空
func (c *NatsxClient) Publish(subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	return nil
}

// Subscribe 广播订阅（不分组），handler 外面套上客户端中间件
func (c *NatsxClient) Subscribe(subject string, h NatsxHandler) error {
	h = NatsxChain(h, c.mws...)
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		msg := NatsxMessage{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		}
		if err := h(context.Background(), msg); err != nil {
			logger.Warn("[natsx] handle message failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	c.mu.Lock()
	if old, ok := c.subs[subject]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for subject, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, subject)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
