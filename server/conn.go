package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnState 连接状态机：Open -> Joined -> Closed（终态）
type ConnState int32

const (
	StateOpen ConnState = iota
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errSendOverflow = errors.New("send queue overflow")

// ConnConfig 单连接的传输参数
type ConnConfig struct {
	ReadLimit     int64         // 单帧最大字节数
	PongWait      time.Duration // 读超时，收到 pong 或任意帧后续期
	WriteWait     time.Duration // 单次写超时
	SendQueueSize int           // 发送队列容量，溢出即强制断开
}

// DefaultConnConfig 默认传输参数
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		ReadLimit:     1 << 20, // 1MB
		PongWait:      60 * time.Second,
		WriteWait:     5 * time.Second,
		SendQueueSize: 64,
	}
}

// withDefaults 非正值回落到默认参数
func (cfg ConnConfig) withDefaults() ConnConfig {
	def := DefaultConnConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	return cfg
}

func (cfg ConnConfig) pingPeriod() time.Duration {
	return cfg.PongWait * 9 / 10
}

// FrameHandler 接收连接上的入站帧与关闭通知（由 Router 实现）
type FrameHandler interface {
	HandleFrame(ctx context.Context, c *Conn, raw []byte)
	HandleClose(c *Conn)
}

// Conn 一条 WebSocket 连接：有界发送队列 + 读写两个独立协程
type Conn struct {
	id   uuid.UUID
	ws   *websocket.Conn
	cfg  ConnConfig
	send chan []byte

	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once

	metrics *Metrics
}

func NewConn(ws *websocket.Conn, cfg ConnConfig, metrics *Metrics) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		id:      uuid.New(),
		ws:      ws,
		cfg:     cfg,
		send:    make(chan []byte, cfg.SendQueueSize),
		done:    make(chan struct{}),
		metrics: metrics,
	}
	if metrics != nil {
		metrics.IncConnOpened()
	}
	return c
}

func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// markJoined Open -> Joined，仅在 Open 状态下成功
func (c *Conn) markJoined() bool {
	return c.state.CompareAndSwap(int32(StateOpen), int32(StateJoined))
}

// Send 将消息压入发送队列（非阻塞）。
// 队列满说明对端消费过慢：直接断开连接并返回 false，由会话按离开处理，
// 保证一个慢连接不会拖住整个空间的广播。
func (c *Conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		if c.metrics != nil {
			c.metrics.IncSlowConsumerDrop()
		}
		Log.Warnw("send queue overflow, dropping connection", "conn", c.id, "capacity", cap(c.send))
		c.Close(errSendOverflow)
		return false
	}
}

// Close 进入 Closed 终态，可重复调用。
// 底层 socket 由写协程在发出关闭帧后关闭，读协程随之退出并通知 Router。
func (c *Conn) Close(reason error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		if c.metrics != nil {
			c.metrics.IncConnClosed()
		}
		Log.Debugw("connection closed", "conn", c.id, "reason", reason)
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close(fmt.Errorf("%w: write: %v", ErrConnectionLost, err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(fmt.Errorf("%w: ping: %v", ErrConnectionLost, err))
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// readPump 读取客户端帧交给 handler；退出时恰好一次通知 handler 连接已关闭。
// 关闭之后不会再有帧被分发。
func (c *Conn) readPump(ctx context.Context, h FrameHandler) {
	var readErr error
	defer func() {
		c.Close(readErr)
		h.HandleClose(c)
	}()

	extend := func() error { return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)) }
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = extend()
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			readErr = fmt.Errorf("%w: %v", ErrConnectionLost, err)
			return
		}
		if c.State() == StateClosed {
			return
		}
		_ = extend()
		h.HandleFrame(ctx, c, payload)
	}
}
