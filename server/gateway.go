package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// GatewayConfig WebSocket 接入配置
type GatewayConfig struct {
	Conn           ConnConfig
	AllowedOrigins []string // 为空时允许所有来源
}

// Gateway 终结 WebSocket 连接，为每条连接启动读写协程并把帧交给 Router
type Gateway struct {
	upgrader websocket.Upgrader
	router   *Router
	registry *Registry
	metrics  *Metrics
	cfg      GatewayConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[uuid.UUID]*Conn
	closing bool
}

func NewGateway(router *Router, registry *Registry, metrics *Metrics, cfg GatewayConfig) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		router:   router,
		registry: registry,
		metrics:  metrics,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[uuid.UUID]*Conn),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// HandleWS WebSocket 接入：GET /ws，身份与空间由首条 join 消息携带
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, ok := g.admit(ws)
	if !ok {
		Log.Debugw("rejecting connection during shutdown", "remote", r.RemoteAddr)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	Log.Debugw("connection opened", "conn", c.ID(), "remote", r.RemoteAddr)

	// 请求的 context 在 ServeHTTP 返回后即被取消，连接协程使用网关自己的 context
	go func() {
		defer g.wg.Done()
		c.writePump()
	}()
	go func() {
		defer g.wg.Done()
		defer g.untrack(c)
		c.readPump(g.ctx, g.router)
	}()
}

// admit 登记新连接并为其读写协程计数；CloseAll 开始后不再接纳
func (g *Gateway) admit(ws *websocket.Conn) (*Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return nil, false
	}
	c := NewConn(ws, g.cfg.Conn, g.metrics)
	g.conns[c.ID()] = c
	g.wg.Add(2)
	return c, true
}

// ActiveConns 当前存活的连接数
func (g *Gateway) ActiveConns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// CloseAll 关闭所有连接并等待其离开流程结束（优雅退出）
func (g *Gateway) CloseAll(ctx context.Context) error {
	g.cancel()
	g.mu.Lock()
	g.closing = true
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.Close(ErrConnectionLost)
	}

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) untrack(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c.ID())
}
