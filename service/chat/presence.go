package chat

import (
	"context"
	"sort"
	"sync"
)

// PresenceMirror 在线状态的外部镜像（如 redis），只在集合变化时被调用。
// 实现不得阻塞：调用发生在事件处理路径上。
type PresenceMirror interface {
	Online(userID string)
	Offline(userID string)
}

// ClusterPresence 镜像可选实现：读出所有节点的在线用户
type ClusterPresence interface {
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Presence 进程内在线用户表。
// 按连接计数：同一用户多端在线时，只有最后一条连接断开才算下线。
type Presence struct {
	mu     sync.RWMutex
	counts map[string]int
	mirror PresenceMirror
}

func NewPresence(mirror PresenceMirror) *Presence {
	return &Presence{counts: make(map[string]int), mirror: mirror}
}

// MarkOnline 增加一条连接；返回在线集合是否变化（0 -> 1）
func (p *Presence) MarkOnline(userID string) bool {
	if userID == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	changed := p.counts[userID] == 1
	// 持锁通知镜像，保证镜像看到的上下线顺序与本表一致
	if changed && p.mirror != nil {
		p.mirror.Online(userID)
	}
	return changed
}

// MarkOffline 减少一条连接；返回在线集合是否变化（1 -> 0）。用户不在线时为空操作。
func (p *Presence) MarkOffline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n > 1 {
		p.counts[userID] = n - 1
		return false
	}
	delete(p.counts, userID)
	if p.mirror != nil {
		p.mirror.Offline(userID)
	}
	return true
}

// Snapshot 当前在线用户，升序
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.counts))
	for u := range p.counts {
		out = append(out, u)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count 该用户当前的连接数
func (p *Presence) Count(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[userID]
}

func (p *Presence) IsOnline(userID string) bool {
	return p.Count(userID) > 0
}
