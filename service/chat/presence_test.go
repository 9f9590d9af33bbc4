package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordMirror struct {
	mu  sync.Mutex
	ops []string
}

func (m *recordMirror) Online(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "+"+userID)
}

func (m *recordMirror) Offline(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "-"+userID)
}

func TestPresence_RefCounted(t *testing.T) {
	req := require.New(t)
	p := NewPresence(nil)

	req.True(p.MarkOnline("A"))
	req.False(p.MarkOnline("A"))
	req.Equal(2, p.Count("A"))

	req.False(p.MarkOffline("A"))
	req.True(p.IsOnline("A"))
	req.True(p.MarkOffline("A"))
	req.False(p.IsOnline("A"))

	// 不在线时下线为空操作
	req.False(p.MarkOffline("A"))
	req.Empty(p.Snapshot())
}

func TestPresence_EmptyUserIgnored(t *testing.T) {
	p := NewPresence(nil)
	require.False(t, p.MarkOnline(""))
	require.Empty(t, p.Snapshot())
}

func TestPresence_SnapshotSorted(t *testing.T) {
	p := NewPresence(nil)
	for _, u := range []string{"carol", "alice", "bob"} {
		p.MarkOnline(u)
	}
	require.Equal(t, []string{"alice", "bob", "carol"}, p.Snapshot())
}

func TestPresence_MirrorSeesTransitionsOnly(t *testing.T) {
	m := &recordMirror{}
	p := NewPresence(m)

	p.MarkOnline("A")
	p.MarkOnline("A")
	p.MarkOnline("B")
	p.MarkOffline("A")
	p.MarkOffline("A")
	p.MarkOffline("C")

	require.Equal(t, []string{"+A", "+B", "-A"}, m.ops)
}

func TestPresence_ConcurrentDistinctUsers(t *testing.T) {
	p := NewPresence(nil)
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.MarkOnline(fmt.Sprintf("u%03d", i))
		}(i)
	}
	wg.Wait()

	snap := p.Snapshot()
	require.Len(t, snap, n)
	require.Equal(t, "u000", snap[0])
	require.Equal(t, fmt.Sprintf("u%03d", n-1), snap[n-1])
}
