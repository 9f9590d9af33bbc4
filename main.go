package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChatRelay/data/database/mgo/mongoutil"
	"ChatRelay/global/config"
	"ChatRelay/logger"
	"ChatRelay/module/chat/model"
	"ChatRelay/service/chat"
	"ChatRelay/service/natsx"
	"ChatRelay/service/storage"
	redisx "ChatRelay/service/storage/redis"
	"ChatRelay/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"go.uber.org/zap"
)

func main() {
	// glog 的 -v / -logtostderr 等参数
	flag.Parse()
	defer glog.Flush()
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Error("[main] exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ids.SetNodeID(cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 会话查询 ----
	var lookup model.ConversationLookup
	if cfg.Mongo.Enabled() {
		mcli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
			Uri:         cfg.Mongo.URI,
			Address:     cfg.Mongo.Address,
			Database:    cfg.Mongo.Database,
			Username:    cfg.Mongo.Username,
			Password:    cfg.Mongo.Password,
			AuthSource:  cfg.Mongo.AuthSource,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		})
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = mcli.Disconnect(dctx)
		}()
		lookup = model.NewMongoChatStore(mcli.GetDB(), cfg.Mongo.Collection)
		logger.Info("[main] conversation lookup: mongo",
			zap.String("db", cfg.Mongo.Database), zap.String("collection", cfg.Mongo.Collection))
	} else {
		lookup = model.NewMemoryChatStore()
		logger.Warn("[main] MONGO_URI/MONGO_ADDRESS not set, using empty in-memory conversation store")
	}

	// ---- 在线状态镜像 ----
	var mirror chat.PresenceMirror
	if cfg.Redis.Addr != "" {
		rdb, err := redisx.NewClient(ctx, redisx.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		store := storage.NewOnlineStore(rdb, storage.OnlineConfig{NodeID: cfg.GatewayName})
		if err := store.Reset(ctx); err != nil {
			logger.Warn("[main] reset presence mirror failed", zap.Error(err))
		}
		store.Start(ctx)
		mirror = store
	}

	// ---- 跨节点桥接 ----
	var bridge *natsx.Bridge
	if len(cfg.Nats.Servers) > 0 {
		nc, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: cfg.Nats.Servers,
			Name:    cfg.GatewayName,
		}, natsx.Recover())
		if err != nil {
			return err
		}
		defer nc.Close()
		bridge = natsx.NewBridge(nc, cfg.Nats.Subject, cfg.GatewayName)
	}

	srvConf := chat.ServerConf{
		Port: cfg.Port,
		Manager: chat.ManagerConf{
			SendQueueSize:  cfg.SendQueueSize,
			WriteWait:      cfg.WriteWait,
			PongWait:       cfg.PingTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		Relay: chat.RelayConf{LookupTimeout: cfg.LookupTimeout},
	}
	var srv *chat.Server
	if bridge != nil {
		srv = chat.NewServer(srvConf, lookup, mirror, bridge)
		if err := bridge.Subscribe(srv.Router().DeliverRemote); err != nil {
			return err
		}
	} else {
		srv = chat.NewServer(srvConf, lookup, mirror, nil)
	}

	logger.Info("[main] gateway starting",
		zap.String("gateway", cfg.GatewayName), zap.Int64("node", cfg.NodeID), zap.Int("port", cfg.Port))
	return srv.Run(ctx)
}
