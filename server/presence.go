package server

import "github.com/google/uuid"

// Point 网格上的整数坐标
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Presence 用户在某个空间内的在线记录（服务端权威状态）
// 仅由 Session 的 actor 协程读写
type Presence struct {
	UserID string
	ConnID uuid.UUID
	Pos    Point

	Client Client // 该连接的发送端（有界队列）
}

// UserState 为下发给客户端的轻量状态
type UserState struct {
	UserID string `json:"userId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

func (p *Presence) state() UserState {
	return UserState{UserID: p.UserID, X: p.Pos.X, Y: p.Pos.Y}
}

// Client Session 向连接投递消息所需的最小接口
// Send 不得阻塞；返回 false 表示消息未能入队（队列溢出或连接已关闭）
type Client interface {
	ID() uuid.UUID
	Send(msg []byte) bool
}
