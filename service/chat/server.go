package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/middleware"
	"ChatRelay/module/chat/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ServerConf struct {
	Port            int
	ShutdownTimeout time.Duration
	Manager         ManagerConf
	Relay           RelayConf
}

func (c *ServerConf) norm() {
	if c.Port <= 0 {
		c.Port = 5000
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server 网关进程：HTTP 路由 + WebSocket 连接 + 中继状态机
type Server struct {
	conf    ServerConf
	relay   *Relay
	connMgr *ConnManager
	engine  *gin.Engine
	cluster ClusterPresence // nil => 只有本节点视图

	mu  sync.Mutex
	ctx context.Context
}

// NewServer mirror、bridge 可为 nil
func NewServer(conf ServerConf, lookup model.ConversationLookup, mirror PresenceMirror, bridge Bridge) *Server {
	conf.norm()
	connMgr := NewConnManager(conf.Manager)
	router := NewRouter(connMgr)
	if bridge != nil {
		router.SetBridge(bridge)
	}
	s := &Server{
		conf:    conf,
		relay:   NewRelay(NewPresence(mirror), router, lookup, conf.Relay),
		connMgr: connMgr,
	}
	if cp, ok := mirror.(ClusterPresence); ok {
		s.cluster = cp
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(), middleware.Origin(middleware.DefaultCorsOptions()))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "API is running")
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "API is running"})
	})
	r.GET("/online", s.handleOnline)
	r.GET("/ws", s.HandleWS)
	return r
}

// handleOnline 本节点在线用户；配置了镜像时附带全集群的在线用户
func (s *Server) handleOnline(c *gin.Context) {
	resp := gin.H{
		"users":       s.relay.Presence().Snapshot(),
		"connections": s.connMgr.Len(),
	}
	if s.cluster != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		users, err := s.cluster.OnlineUsers(ctx)
		if err != nil {
			logger.Warn("[server] read cluster presence failed", zap.Error(err))
		} else {
			resp["cluster"] = users
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Engine() http.Handler { return s.engine }

func (s *Server) Relay() *Relay { return s.relay }

func (s *Server) Router() *Router { return s.relay.Router() }

func (s *Server) ConnMgr() *ConnManager { return s.connMgr }

// baseCtx 连接级 context 的父 context；Run 之前为 Background
func (s *Server) baseCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Run 阻塞直到 ctx 取消或监听失败；退出时关闭所有连接
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.conf.Port)),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[server] listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.connMgr.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("[server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.conf.ShutdownTimeout)
	defer cancel()
	// 升级后的连接不受 Shutdown 管理，需要单独关闭
	s.connMgr.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
