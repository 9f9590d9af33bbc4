package config

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// AppConfig 网关配置，全部来自环境变量（可由 .env 预置）
type AppConfig struct {
	Port        int    `envconfig:"PORT" default:"5000"`
	NodeID      int64  `envconfig:"NODE_ID" default:"1"` // 雪花节点号 0~1023
	GatewayName string `envconfig:"GATEWAY_NAME"`        // 空则随机生成
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	PingTimeout    time.Duration `envconfig:"PING_TIMEOUT" default:"60s"`
	WriteWait      time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	SendQueueSize  int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	MaxMessageSize int64         `envconfig:"MAX_MESSAGE_SIZE" default:"1048576"`
	LookupTimeout  time.Duration `envconfig:"LOOKUP_TIMEOUT" default:"5s"`

	Mongo MongoConfig
	Redis RedisConfig
	Nats  NatsConfig
}

type MongoConfig struct {
	URI         string   `envconfig:"MONGO_URI"`     // 与 Address 都为空则使用内存会话表
	Address     []string `envconfig:"MONGO_ADDRESS"` // host:port 列表，URI 为空时据此拼接
	Username    string   `envconfig:"MONGO_USERNAME"`
	Password    string   `envconfig:"MONGO_PASSWORD"`
	AuthSource  string   `envconfig:"MONGO_AUTH_SOURCE"`
	Database    string   `envconfig:"MONGO_DATABASE" default:"chat"`
	Collection  string   `envconfig:"MONGO_COLLECTION" default:"chats"`
	MaxPoolSize int      `envconfig:"MONGO_MAX_POOL_SIZE" default:"20"`
}

// Enabled 配置了 URI 或地址即使用 Mongo
func (m MongoConfig) Enabled() bool {
	return m.URI != "" || len(m.Address) > 0
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"` // 空则不镜像在线状态
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

type NatsConfig struct {
	Servers []string `envconfig:"NATS_SERVERS"` // 空则单节点运行
	Subject string   `envconfig:"NATS_SUBJECT" default:"relay.broadcast"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "process env")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.GatewayName == "" {
		cfg.GatewayName = "gw-" + uuid.NewString()[:8]
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("PORT out of range: %d", c.Port)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errors.Errorf("NODE_ID must be within 0~1023, got %d", c.NodeID)
	}
	if c.PingTimeout <= 0 {
		return errors.New("PING_TIMEOUT must be positive")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("SEND_QUEUE_SIZE must be positive")
	}
	return nil
}
