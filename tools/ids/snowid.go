package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator 雪花ID：41位毫秒时间戳 | 10位节点 | 12位序列
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

// NewGenerator nodeID 超出 0~1023 时退回 1
func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Generator{nodeID: nodeID, now: time.Now}
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	epochMS := epoch.UnixMilli()
	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// 时钟回拨，等待
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & seqMask
			if g.seq == 0 {
				// 序列溢出，等到下一毫秒
				for now <= g.lastTSMS {
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - epochMS) & (1<<41 - 1)
		return ts<<(nodeBits+seqBits) | g.nodeID<<seqBits | g.seq
	}
}

func (g *Generator) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

var (
	defaultMu  sync.RWMutex
	defaultGen = NewGenerator(1)
)

// SetNodeID 替换默认生成器的节点号，在 main() 初始化时调用
func SetNodeID(nodeID int64) {
	defaultMu.Lock()
	defaultGen = NewGenerator(nodeID)
	defaultMu.Unlock()
}

// Generate 用默认生成器生成一个新的雪花ID
func Generate() int64 {
	defaultMu.RLock()
	g := defaultGen
	defaultMu.RUnlock()
	return g.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}
