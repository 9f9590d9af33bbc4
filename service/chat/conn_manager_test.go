package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerConf_Defaults(t *testing.T) {
	c := ManagerConf{PongWait: 20 * time.Second, PingPeriod: time.Minute}
	c.norm()
	require.Equal(t, 256, c.SendQueueSize)
	require.Equal(t, 10*time.Second, c.WriteWait)
	require.Equal(t, 18*time.Second, c.PingPeriod)
	require.Equal(t, int64(1<<20), c.MaxMessageSize)
	require.NotNil(t, c.Clock)
}

func TestConnManager_SendQueuesFrame(t *testing.T) {
	req := require.New(t)
	m := NewConnManager(ManagerConf{SendQueueSize: 2})
	c := m.Add(nil)
	req.NotEmpty(c.ID)
	req.Equal(1, m.Len())

	req.True(m.Send(c.ID, []byte("one")))
	req.Equal("one", string(<-c.send))
	req.False(m.Send("unknown", []byte("x")))
}

func TestConnManager_FullQueueDrops(t *testing.T) {
	req := require.New(t)
	m := NewConnManager(ManagerConf{SendQueueSize: 1})
	c := m.Add(nil)

	req.True(m.Send(c.ID, []byte("1")))
	req.False(m.Send(c.ID, []byte("2")))
	req.False(m.Send(c.ID, []byte("3")))
	req.Equal(int64(2), c.Dropped())
}

func TestConnManager_RemoveClosesQueue(t *testing.T) {
	req := require.New(t)
	m := NewConnManager(ManagerConf{})
	c := m.Add(nil)
	req.True(m.Send(c.ID, []byte("last")))

	m.Remove(c.ID)
	m.Remove(c.ID)

	req.True(c.Closed())
	req.Zero(m.Len())
	req.False(m.Send(c.ID, []byte("late")))
	req.False(c.enqueue([]byte("late")))

	// 关闭前已入队的帧仍可被写协程取出
	data, ok := <-c.send
	req.True(ok)
	req.Equal("last", string(data))
	_, ok = <-c.send
	req.False(ok)
}

func TestConnManager_CloseAll(t *testing.T) {
	m := NewConnManager(ManagerConf{})
	a, b := m.Add(nil), m.Add(nil)
	require.NotEqual(t, a.ID, b.ID)

	m.Close()

	require.Zero(t, m.Len())
	require.True(t, a.Closed())
	require.True(t, b.Closed())
	_, ok := m.Get(a.ID)
	require.False(t, ok)
}

func TestConnManager_UsesInjectedClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewConnManager(ManagerConf{Clock: func() time.Time { return at }})
	require.Equal(t, at, m.Add(nil).CreatedAt)
}
