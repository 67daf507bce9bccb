package server

import (
	"math/rand"
	"sort"

	"github.com/google/uuid"
)

// spawnProbes 随机探测出生点的次数，全部落空后退化为逐格扫描
const spawnProbes = 32

// Session 单个空间的实时会话：权威花名册保存在内存，由 actor 协程独占读写
type Session struct {
	ID string

	geometry  Geometry
	presences map[uuid.UUID]*Presence

	ops  chan func()
	done chan struct{}

	onRetire func(*Session)
	metrics  *Metrics
}

// JoinResult 加入成功后的回执内容
type JoinResult struct {
	Spawn Point
	Users []UserState
}

// newSession 创建会话并启动 actor 协程
func newSession(id string, g Geometry, metrics *Metrics, onRetire func(*Session)) *Session {
	s := &Session{
		ID:        id,
		geometry:  g,
		presences: make(map[uuid.UUID]*Presence),
		ops:       make(chan func()),
		done:      make(chan struct{}),
		onRetire:  onRetire,
		metrics:   metrics,
	}
	go s.run()
	return s
}

// Geometry 会话创建时固定的几何信息
func (s *Session) Geometry() Geometry { return s.geometry }

// Done 会话退役后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Join 为连接分配出生点并插入花名册，向加入者回复 space-joined。
// 其他成员不会收到通知，新成员只在其后续移动时才对他人可见。
func (s *Session) Join(userID string, c Client) (JoinResult, error) {
	var (
		res JoinResult
		err error
	)
	if cerr := s.call(func() { res, err = s.join(userID, c) }); cerr != nil {
		return JoinResult{}, cerr
	}
	return res, err
}

// Move 校验并应用一次移动。连接不在花名册中时静默忽略（accepted=false, err=nil）。
func (s *Session) Move(connID uuid.UUID, to Point) (pos Point, accepted bool, err error) {
	err = s.call(func() { pos, accepted = s.move(connID, to) })
	return pos, accepted, err
}

// Depart 移除连接对应的在线记录并通知剩余成员；重复调用无副作用
func (s *Session) Depart(connID uuid.UUID) (removed bool, err error) {
	err = s.call(func() {
		var dropped []uuid.UUID
		removed, dropped = s.depart(connID)
		s.evict(dropped)
	})
	return removed, err
}

// Snapshot 当前花名册（按 userId 排序）
func (s *Session) Snapshot() ([]UserState, error) {
	var users []UserState
	err := s.call(func() { users = s.roster(uuid.Nil) })
	return users, err
}

func (s *Session) join(userID string, c Client) (JoinResult, error) {
	if _, ok := s.presences[c.ID()]; ok {
		return JoinResult{}, ErrAlreadyJoined
	}
	spawn, ok := s.pickSpawn()
	if !ok {
		return JoinResult{}, ErrSpaceFull
	}

	// 快照在插入前获取，与插入处于同一串行操作内
	res := JoinResult{Spawn: spawn, Users: s.roster(uuid.Nil)}
	s.presences[c.ID()] = &Presence{UserID: userID, ConnID: c.ID(), Pos: spawn, Client: c}
	Log.Debugw("user joined space", "space", s.ID, "user", userID, "conn", c.ID(), "x", spawn.X, "y", spawn.Y, "others", len(res.Users))

	if !c.Send(encode(TypeSpaceJoined, SpaceJoined{Spawn: res.Spawn, Users: res.Users})) {
		s.evict([]uuid.UUID{c.ID()})
	}
	return res, nil
}

func (s *Session) move(connID uuid.UUID, to Point) (Point, bool) {
	p, ok := s.presences[connID]
	if !ok {
		Log.Debugw("movement from connection without presence", "space", s.ID, "conn", connID)
		return Point{}, false
	}

	next, accepted := ValidateMove(s.geometry, p.Pos, to)
	if !accepted {
		if s.metrics != nil {
			s.metrics.IncMoveRejected()
		}
		cur := p.Pos
		if !p.Client.Send(encode(TypeMovementRejected, cur)) {
			s.evict([]uuid.UUID{connID})
		}
		return cur, false
	}

	p.Pos = next
	if s.metrics != nil {
		s.metrics.IncMoveAccepted()
	}
	s.evict(s.broadcast(encode(TypeMovement, p.state()), connID))
	return next, true
}

// depart 仅负责移除与广播，返回广播过程中发送失败的连接
func (s *Session) depart(connID uuid.UUID) (bool, []uuid.UUID) {
	p, ok := s.presences[connID]
	if !ok {
		return false, nil
	}
	delete(s.presences, connID)
	if s.metrics != nil {
		s.metrics.IncDeparture()
	}
	Log.Debugw("user left space", "space", s.ID, "user", p.UserID, "conn", connID, "remaining", len(s.presences))
	return true, s.broadcast(encode(TypeUserLeft, UserLeft{UserID: p.UserID}), connID)
}

// evict 将发送失败的连接视为立即离开，走与正常断开相同的 depart 路径。
// 离开广播本身可能再次失败，因此用队列处理直到收敛。
func (s *Session) evict(ids []uuid.UUID) {
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		removed, dropped := s.depart(id)
		if removed {
			Log.Warnw("evicted unreachable connection", "space", s.ID, "conn", id)
		}
		ids = append(ids, dropped...)
	}
}

// broadcast 发送给除 except 外的所有成员
func (s *Session) broadcast(msg []byte, except uuid.UUID) []uuid.UUID {
	var dropped []uuid.UUID
	for id, p := range s.presences {
		if id == except {
			continue
		}
		if !p.Client.Send(msg) {
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// roster 返回除 except 外的成员列表，按 userId、connId 排序保证确定性
func (s *Session) roster(except uuid.UUID) []UserState {
	ps := make([]*Presence, 0, len(s.presences))
	for id, p := range s.presences {
		if id != except {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].UserID != ps[j].UserID {
			return ps[i].UserID < ps[j].UserID
		}
		return ps[i].ConnID.String() < ps[j].ConnID.String()
	})
	users := make([]UserState, 0, len(ps))
	for _, p := range ps {
		users = append(users, p.state())
	}
	return users
}

// pickSpawn 在边界内挑选一个非障碍、未被占用的格子
func (s *Session) pickSpawn() (Point, bool) {
	occupied := make(map[Point]struct{}, len(s.presences))
	for _, p := range s.presences {
		occupied[p.Pos] = struct{}{}
	}
	free := func(p Point) bool {
		if !s.geometry.Walkable(p) {
			return false
		}
		_, taken := occupied[p]
		return !taken
	}

	for i := 0; i < spawnProbes; i++ {
		p := Point{X: rand.Intn(s.geometry.Width), Y: rand.Intn(s.geometry.Height)}
		if free(p) {
			return p, true
		}
	}
	for y := 0; y < s.geometry.Height; y++ {
		for x := 0; x < s.geometry.Width; x++ {
			if p := (Point{X: x, Y: y}); free(p) {
				return p, true
			}
		}
	}
	return Point{}, false
}
