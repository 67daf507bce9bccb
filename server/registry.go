package server

import (
	"context"
	"sort"
	"sync"
)

// Registry 进程内的空间目录：spaceID -> Session
// 首次加入时创建会话，会话人数归零后由会话自己从目录中移除
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *Metrics
}

// GeometryLoader 按空间 ID 加载几何信息（通常来自 SpaceCatalog）
type GeometryLoader func(ctx context.Context, spaceID string) (Geometry, error)

func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{sessions: make(map[string]*Session), metrics: metrics}
}

// Lookup 查找活跃会话
func (r *Registry) Lookup(spaceID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[spaceID]
	return s, ok
}

// GetOrCreate 获取或创建会话；插入对同一 key 是原子的，
// 已存在时忽略传入的几何信息
func (r *Registry) GetOrCreate(spaceID string, g Geometry) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[spaceID]
	if !ok {
		s = newSession(spaceID, g, r.metrics, r.remove)
		r.sessions[spaceID] = s
		if r.metrics != nil {
			r.metrics.IncSessionCreated()
		}
		Log.Infow("space session created", "space", spaceID, "width", g.Width, "height", g.Height, "obstacles", g.ObstacleCount())
	}
	return s
}

// Acquire 已有会话直接返回；否则在锁外加载几何信息再原子插入。
// 并发创建时只有一个会话会留在目录里，其余加载结果被丢弃。
func (r *Registry) Acquire(ctx context.Context, spaceID string, load GeometryLoader) (*Session, error) {
	if s, ok := r.Lookup(spaceID); ok {
		return s, nil
	}
	g, err := load(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return r.GetOrCreate(spaceID, g), nil
}

// remove 比较后删除：退役的旧会话不会误删已替换它的新会话
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
}

// Sessions 按空间 ID 排序的活跃会话
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
