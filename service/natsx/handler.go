package natsx

import (
	"context"

	"ChatRelay/tools/safe"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、恢复等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件，mws[0] 在最外层
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover 把 handler 的 panic 转成错误
func Recover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			return safe.Run("natsx:"+msg.Subject, func() error {
				return next(ctx, msg)
			})
		}
	}
}
