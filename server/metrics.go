package server

import (
	"sync/atomic"
)

// Metrics 记录实时引擎的关键指标（用于监控与调试）
// 所有空间共享同一个实例，字段只通过原子操作访问
type Metrics struct {
	SessionsCreated  int64 // 创建的空间会话数
	SessionsRetired  int64 // 因人数归零而回收的会话数
	JoinsAccepted    int64 // 成功加入的次数
	JoinsRejected    int64 // 鉴权/空间不存在/重复加入等失败次数
	MovesAccepted    int64 // 被接受的移动
	MovesRejected    int64 // 被校验器拒绝的移动
	Departures       int64 // 离开（含主动断开与强制断开）
	SlowConsumerDrop int64 // 因发送队列溢出被强制断开的连接数
	MalformedFrames  int64 // 被丢弃的非法帧
	ConnsOpened      int64
	ConnsClosed      int64
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncSessionCreated()   { atomic.AddInt64(&m.SessionsCreated, 1) }
func (m *Metrics) IncSessionRetired()   { atomic.AddInt64(&m.SessionsRetired, 1) }
func (m *Metrics) IncJoinAccepted()     { atomic.AddInt64(&m.JoinsAccepted, 1) }
func (m *Metrics) IncJoinRejected()     { atomic.AddInt64(&m.JoinsRejected, 1) }
func (m *Metrics) IncMoveAccepted()     { atomic.AddInt64(&m.MovesAccepted, 1) }
func (m *Metrics) IncMoveRejected()     { atomic.AddInt64(&m.MovesRejected, 1) }
func (m *Metrics) IncDeparture()        { atomic.AddInt64(&m.Departures, 1) }
func (m *Metrics) IncSlowConsumerDrop() { atomic.AddInt64(&m.SlowConsumerDrop, 1) }
func (m *Metrics) IncMalformedFrame()   { atomic.AddInt64(&m.MalformedFrames, 1) }
func (m *Metrics) IncConnOpened()       { atomic.AddInt64(&m.ConnsOpened, 1) }
func (m *Metrics) IncConnClosed()       { atomic.AddInt64(&m.ConnsClosed, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	opened := atomic.LoadInt64(&m.ConnsOpened)
	closed := atomic.LoadInt64(&m.ConnsClosed)
	return map[string]any{
		"sessions_created":    atomic.LoadInt64(&m.SessionsCreated),
		"sessions_retired":    atomic.LoadInt64(&m.SessionsRetired),
		"joins_accepted":      atomic.LoadInt64(&m.JoinsAccepted),
		"joins_rejected":      atomic.LoadInt64(&m.JoinsRejected),
		"moves_accepted":      atomic.LoadInt64(&m.MovesAccepted),
		"moves_rejected":      atomic.LoadInt64(&m.MovesRejected),
		"departures":          atomic.LoadInt64(&m.Departures),
		"slow_consumer_drops": atomic.LoadInt64(&m.SlowConsumerDrop),
		"malformed_frames":    atomic.LoadInt64(&m.MalformedFrames),
		"connections_open":    opened - closed,
	}
}
