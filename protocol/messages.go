package protocol

import (
	"fmt"
	"math"
)

// 服务端下行消息的 type 标识
const (
	TypeWelcome = "welcome"
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypePos     = "pos"
	TypeError   = "error"
)

// 客户端上行消息的 action 标识
const (
	ActionPos = "pos"
)

// Vec2 二维坐标
type Vec2 struct {
	X float64
	Y float64
}

// DistanceTo 欧氏距离
func (v Vec2) DistanceTo(o Vec2) float64 {
	return math.Hypot(v.X-o.X, v.Y-o.Y)
}

// PlayerState 大厅中一名玩家的轻量状态
type PlayerState struct {
	ID  string
	Pos Vec2
}

// Message 解码后的下行消息（封闭的标签联合）
type Message interface {
	Type() string
	isMessage()
}

// Welcome 首次连接时的全量同步
type Welcome struct {
	YourID  string
	Players []PlayerState
}

// Join 新玩家进入大厅
type Join struct {
	Player PlayerState
}

// Leave 玩家离开大厅
type Leave struct {
	ID string
}

// Position 某个玩家的位置更新
type Position struct {
	Player PlayerState
}

// ServerError 服务端下发的错误提示
type ServerError struct {
	Message string
}

// Unrecognized 未知 type，由上层记录后丢弃
type Unrecognized struct {
	RawType string
}

func (Welcome) Type() string        { return TypeWelcome }
func (Join) Type() string           { return TypeJoin }
func (Leave) Type() string          { return TypeLeave }
func (Position) Type() string       { return TypePos }
func (ServerError) Type() string    { return TypeError }
func (m Unrecognized) Type() string { return m.RawType }

func (Welcome) isMessage()      {}
func (Join) isMessage()         {}
func (Leave) isMessage()        {}
func (Position) isMessage()     {}
func (ServerError) isMessage()  {}
func (Unrecognized) isMessage() {}

// Err 以 ErrUnrecognizedMessageType 包装原始 type，便于日志与 errors.Is 判断
func (m Unrecognized) Err() error {
	return fmt.Errorf("%w: %q", ErrUnrecognizedMessageType, m.RawType)
}

// PositionUpdate 本地玩家的位置上报意图
type PositionUpdate struct {
	Pos Vec2
}
