package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxJoinAttempts 会话在查找与加入之间退役时的重试上限
const maxJoinAttempts = 3

// TokenVerifier 鉴权协作方：会话令牌 -> 用户 ID
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// SpaceCatalog 空间元数据协作方：空间 ID -> 几何信息。
// 空间不存在时返回的错误需满足 errors.Is(err, ErrSpaceNotFound)。
type SpaceCatalog interface {
	GetSpaceMetadata(ctx context.Context, spaceID string) (Geometry, error)
}

type binding struct {
	session *Session
	userID  string
}

// Router 入站消息与关闭通知进入会话的唯一通道
type Router struct {
	auth     TokenVerifier
	catalog  SpaceCatalog
	registry *Registry
	metrics  *Metrics

	lookupTimeout time.Duration

	mu       sync.Mutex
	bindings map[uuid.UUID]binding
}

func NewRouter(auth TokenVerifier, catalog SpaceCatalog, registry *Registry, metrics *Metrics) *Router {
	return &Router{
		auth:          auth,
		catalog:       catalog,
		registry:      registry,
		metrics:       metrics,
		lookupTimeout: 5 * time.Second,
		bindings:      make(map[uuid.UUID]binding),
	}
}

// HandleFrame 解码并分发一帧；非法帧直接丢弃，连接保持
func (rt *Router) HandleFrame(ctx context.Context, c *Conn, raw []byte) {
	in, err := DecodeInbound(raw)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.IncMalformedFrame()
		}
		Log.Debugw("dropping malformed frame", "conn", c.ID(), "error", err)
		return
	}
	switch in.Type {
	case TypeJoin:
		rt.join(ctx, c, *in.Join)
	case TypeMovement:
		rt.move(c, *in.Move)
	}
}

// HandleClose 连接关闭：解除绑定并触发一次离开。重复通知无副作用。
func (rt *Router) HandleClose(c *Conn) {
	c.Close(ErrConnectionLost)
	b, ok := rt.unbind(c.ID())
	if !ok {
		return
	}
	removed, err := b.session.Depart(c.ID())
	if err != nil && !errors.Is(err, ErrSessionRetired) {
		Log.Errorw("departure failed", "space", b.session.ID, "conn", c.ID(), "error", err)
		return
	}
	Log.Infow("connection departed", "space", b.session.ID, "user", b.userID, "conn", c.ID(), "removed", removed)
}

// Bound 当前已加入空间的连接数
func (rt *Router) Bound() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.bindings)
}

func (rt *Router) join(ctx context.Context, c *Conn, req JoinRequest) {
	switch c.State() {
	case StateJoined:
		rt.reject(c, CodeAlreadyJoined, ErrAlreadyJoined)
		return
	case StateClosed:
		return
	}

	userID, err := rt.auth.VerifyToken(req.Token)
	if err != nil || userID == "" {
		Log.Infow("join rejected: bad token", "conn", c.ID(), "space", req.SpaceID, "error", err)
		rt.reject(c, CodeUnauthorized, ErrUnauthorized)
		return
	}
	if req.SpaceID == "" {
		rt.reject(c, CodeSpaceNotFound, ErrSpaceNotFound)
		return
	}

	var (
		sess *Session
		res  JoinResult
	)
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		sess, err = rt.registry.Acquire(ctx, req.SpaceID, rt.loadGeometry)
		if err != nil {
			break
		}
		res, err = sess.Join(userID, c)
		if !errors.Is(err, ErrSessionRetired) {
			break
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrSpaceNotFound):
			rt.reject(c, CodeSpaceNotFound, ErrSpaceNotFound)
		case errors.Is(err, ErrSpaceFull):
			rt.reject(c, CodeSpaceFull, ErrSpaceFull)
		case errors.Is(err, ErrAlreadyJoined):
			rt.reject(c, CodeAlreadyJoined, ErrAlreadyJoined)
		default:
			Log.Errorw("join failed", "conn", c.ID(), "space", req.SpaceID, "user", userID, "error", err)
			rt.reject(c, CodeInternal, errors.New("join failed"))
		}
		return
	}

	// 先绑定再切换状态：关闭通知总在本次调用返回之后到达，届时一定能找到绑定
	rt.bind(c.ID(), binding{session: sess, userID: userID})
	c.markJoined()
	if rt.metrics != nil {
		rt.metrics.IncJoinAccepted()
	}
	Log.Infow("connection joined", "space", sess.ID, "user", userID, "conn", c.ID(), "x", res.Spawn.X, "y", res.Spawn.Y)
}

func (rt *Router) move(c *Conn, to Point) {
	if c.State() != StateJoined {
		return
	}
	b, ok := rt.lookup(c.ID())
	if !ok {
		return
	}
	if _, _, err := b.session.Move(c.ID(), to); err != nil && !errors.Is(err, ErrSessionRetired) {
		Log.Errorw("movement failed", "space", b.session.ID, "conn", c.ID(), "error", err)
	}
}

func (rt *Router) loadGeometry(ctx context.Context, spaceID string) (Geometry, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.lookupTimeout)
	defer cancel()
	g, err := rt.catalog.GetSpaceMetadata(ctx, spaceID)
	if err != nil {
		return Geometry{}, fmt.Errorf("load space %s: %w", spaceID, err)
	}
	return g, nil
}

func (rt *Router) reject(c *Conn, code string, err error) {
	if rt.metrics != nil {
		rt.metrics.IncJoinRejected()
	}
	c.Send(encodeError(code, err))
}

func (rt *Router) bind(id uuid.UUID, b binding) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.bindings[id] = b
}

func (rt *Router) lookup(id uuid.UUID) (binding, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b, ok := rt.bindings[id]
	return b, ok
}

func (rt *Router) unbind(id uuid.UUID) (binding, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b, ok := rt.bindings[id]
	if ok {
		delete(rt.bindings, id)
	}
	return b, ok
}
