package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// 消息类型标签
const (
	TypeJoin             = "join"
	TypeMovement         = "movement"
	TypeSpaceJoined      = "space-joined"
	TypeMovementRejected = "movement-rejected"
	TypeUserLeft         = "user-left"
	TypeError            = "error"
)

// 错误码（error 消息的 code 字段）
const (
	CodeUnauthorized  = "unauthorized"
	CodeSpaceNotFound = "space-not-found"
	CodeAlreadyJoined = "already-joined"
	CodeSpaceFull     = "space-full"
	CodeInternal      = "internal"
)

// Envelope 线上消息的统一外层结构
// 示例：{"type":"movement","payload":{"x":1,"y":2}}
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// JoinRequest 入站 join 载荷
type JoinRequest struct {
	SpaceID string `json:"spaceId"`
	Token   string `json:"token"`
}

// Inbound 解码后的入站消息；Join 与 Move 二者只有一个非空
type Inbound struct {
	Type string
	Join *JoinRequest
	Move *Point
}

type SpaceJoined struct {
	Spawn Point       `json:"spawn"`
	Users []UserState `json:"users"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeInbound 解析一帧入站文本
// 非法 JSON、未知类型、缺字段或字段类型错误都返回 ErrMalformedFrame（调用方丢弃该帧，连接保持）
func DecodeInbound(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}
	typ := gjson.GetBytes(raw, "type")
	payload := gjson.GetBytes(raw, "payload")
	if typ.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if !payload.IsObject() {
		return Inbound{}, fmt.Errorf("%w: payload must be an object", ErrMalformedFrame)
	}

	switch typ.Str {
	case TypeJoin:
		var jr JoinRequest
		if err := json.Unmarshal([]byte(payload.Raw), &jr); err != nil {
			return Inbound{}, fmt.Errorf("%w: join: %v", ErrMalformedFrame, err)
		}
		return Inbound{Type: TypeJoin, Join: &jr}, nil
	case TypeMovement:
		x, err := coordinate(payload.Get("x"))
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: movement x: %v", ErrMalformedFrame, err)
		}
		y, err := coordinate(payload.Get("y"))
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: movement y: %v", ErrMalformedFrame, err)
		}
		return Inbound{Type: TypeMovement, Move: &Point{X: x, Y: y}}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, typ.Str)
	}
}

// encode 序列化出站消息；载荷均为本包内的固定结构，不会失败
func encode(typ string, payload any) []byte {
	b, _ := json.Marshal(Envelope{Type: typ, Payload: payload})
	return b
}

func encodeError(code string, err error) []byte {
	return encode(TypeError, ErrorPayload{Code: code, Message: err.Error()})
}

// maxExactFloat float64 能精确表示的最大整数
const maxExactFloat = 1 << 53

// coordinate 读取一个坐标数字。
// 超出 int 范围的整数饱和到 MaxInt/MinInt，非整数（如 1.5）映射为 MinInt，
// 两者都必然越界，由校验器拒绝并回复 movement-rejected。
// 缺失或非数字才算非法帧。
func coordinate(r gjson.Result) (int, error) {
	if r.Type != gjson.Number {
		return 0, errors.New("must be a number")
	}
	v, err := strconv.ParseInt(r.Raw, 10, strconv.IntSize)
	if err == nil {
		return int(v), nil
	}
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(r.Raw, "-") {
			return math.MinInt, nil
		}
		return math.MaxInt, nil
	}
	// 1e2 这类写法：整数值且可精确表示时照常使用
	if f := r.Num; f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		return int(f), nil
	}
	if r.Num > 0 && r.Num == math.Trunc(r.Num) {
		return math.MaxInt, nil
	}
	return math.MinInt, nil
}
