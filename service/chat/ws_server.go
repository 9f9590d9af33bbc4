package chat

import (
	"context"
	"net/http"

	"ChatRelay/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS 升级为 WebSocket，读协程驱动会话，写协程负责全部出站帧
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已写回错误响应
		logger.Info("[WS] upgrade failed", zap.Error(err))
		return
	}

	conn := s.connMgr.Add(ws)
	sess := s.relay.Connect(conn.ID)
	logger.Info("[WS] connected", zap.String("conn", conn.ID), zap.Stringer("remote", conn.Remote))

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.writePump(s.connMgr.Conf())
	}()

	ctx, cancel := context.WithCancel(s.baseCtx())
	defer cancel()

	// ---- 读循环：只读，不写；出错即退出 ----
	conn.readLoop(s.connMgr.Conf(), func(data []byte) {
		f, perr := ParseFrameJSON(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warn("[WS] parse frame failed",
				zap.String("conn", conn.ID), zap.Error(perr),
				zap.ByteString("sample", sample), zap.Int("len", len(data)))
			return
		}
		s.relay.Handle(ctx, sess, f)
	})

	// ---- 退出阶段：释放频道与在线状态，关闭发送队列，等写协程收尾 ----
	s.relay.Disconnect(sess)
	s.connMgr.Remove(conn.ID)
	<-done
	logger.Info("[WS] disconnected", zap.String("conn", conn.ID), zap.Int64("dropped", conn.Dropped()))
}
