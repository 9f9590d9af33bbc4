package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===== 配置 =====
type OnlineConfig struct {
	NodeID        string        // 节点ID（参与key命名）
	TTL           time.Duration // 节点在线表TTL，由 worker 定期续期；节点宕机后自然过期
	UseClusterTag bool          // 是否使用Redis Cluster hash-tag对齐
	QueueSize     int           // 待写入操作队列长度
	OpTimeout     time.Duration // 单次 redis 操作超时
}

func (c *OnlineConfig) norm() {
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 2 * time.Second
	}
}

const presencePrefix = "im:presence:"

// ===== Lua 脚本 =====

// 上线：写入用户并续期节点表
// KEYS[1] = node key
// ARGV[1] = userID
// ARGV[2] = nowUnix
// ARGV[3] = ttlSeconds
const luaOnline = `
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
return 1
`

// 下线：删除用户；节点表非空时续期
// 返回：1=删掉了；0=本来就不在（幂等）
const luaOffline = `
local existed = redis.call("HDEL", KEYS[1], ARGV[1])
if redis.call("HLEN", KEYS[1]) > 0 then
  redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
end
return existed
`

type presenceOp struct {
	userID string
	online bool
}

// OnlineStore 把本节点的在线用户镜像到 redis 的节点哈希：
// im:presence:<node> field=userID value=上线时间
//
// Online/Offline 只入队不阻塞，由 Start 启动的 worker 顺序写入。
type OnlineStore struct {
	conf OnlineConfig
	rdb  redis.UniversalClient

	ops     chan presenceOp
	dropped atomic.Int64

	luaOnline  *redis.Script
	luaOffline *redis.Script

	startOnce sync.Once
	now       func() time.Time
}

func NewOnlineStore(rdb redis.UniversalClient, conf OnlineConfig) *OnlineStore {
	conf.norm()
	return &OnlineStore{
		conf:       conf,
		rdb:        rdb,
		ops:        make(chan presenceOp, conf.QueueSize),
		luaOnline:  redis.NewScript(luaOnline),
		luaOffline: redis.NewScript(luaOffline),
		now:        time.Now,
	}
}

// ===== Key 构造 =====

// UseClusterTag=true: im:presence:{<node>}
// false:              im:presence:<node>
func (m *OnlineStore) nodeKey() string {
	if m.conf.UseClusterTag {
		return fmt.Sprintf("%s{%s}", presencePrefix, m.conf.NodeID)
	}
	return presencePrefix + m.conf.NodeID
}

// ===== 镜像接口（非阻塞） =====

func (m *OnlineStore) Online(userID string) { m.enqueue(presenceOp{userID: userID, online: true}) }

func (m *OnlineStore) Offline(userID string) { m.enqueue(presenceOp{userID: userID}) }

func (m *OnlineStore) enqueue(op presenceOp) {
	select {
	case m.ops <- op:
	default:
		n := m.dropped.Add(1)
		logger.Warn("[online] queue full, presence op dropped",
			zap.String("user", op.userID), zap.Bool("online", op.online), zap.Int64("dropped", n))
	}
}

// Dropped 因队列满被丢弃的操作数
func (m *OnlineStore) Dropped() int64 { return m.dropped.Load() }

// Start 启动写入 worker；ctx 取消后 worker 退出。只有第一次调用生效。
func (m *OnlineStore) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		safe.SafeGo("online-store", func() { m.run(ctx) })
	})
}

func (m *OnlineStore) run(ctx context.Context) {
	ticker := time.NewTicker(m.conf.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.ops:
			if err := m.apply(ctx, op); err != nil {
				logger.Warn("[online] apply presence op failed",
					zap.String("user", op.userID), zap.Bool("online", op.online), zap.Error(err))
			}
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *OnlineStore) apply(ctx context.Context, op presenceOp) error {
	opCtx, cancel := context.WithTimeout(ctx, m.conf.OpTimeout)
	defer cancel()
	ttl := int64(m.conf.TTL / time.Second)
	if op.online {
		return m.luaOnline.Run(opCtx, m.rdb, []string{m.nodeKey()}, op.userID, m.now().Unix(), ttl).Err()
	}
	return m.luaOffline.Run(opCtx, m.rdb, []string{m.nodeKey()}, op.userID, ttl).Err()
}

// refresh 续期节点表，避免长时间无上下线时过期
func (m *OnlineStore) refresh(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, m.conf.OpTimeout)
	defer cancel()
	if err := m.rdb.Expire(opCtx, m.nodeKey(), m.conf.TTL).Err(); err != nil {
		logger.Warn("[online] refresh node ttl failed", zap.String("node", m.conf.NodeID), zap.Error(err))
	}
}

// Reset 清空本节点的在线表（进程启动时调用，丢弃上次运行的残留）
func (m *OnlineStore) Reset(ctx context.Context) error {
	return m.rdb.Del(ctx, m.nodeKey()).Err()
}

// OnlineUsers 全部节点的在线用户并集，升序
func (m *OnlineStore) OnlineUsers(ctx context.Context) ([]string, error) {
	keys, err := m.nodeKeys(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, k := range keys {
		users, err := m.rdb.HKeys(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			seen[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (m *OnlineStore) nodeKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := m.rdb.Scan(ctx, cursor, presencePrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
