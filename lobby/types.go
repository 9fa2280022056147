package lobby

import (
	"errors"

	"lobbylink/protocol"
)

var (
	ErrConfiguration  = errors.New("lobby server url is not configured")
	ErrConnect        = errors.New("failed to open lobby connection")
	ErrTimeout        = errors.New("lobby handshake timed out")
	ErrConnectionLost = errors.New("lobby connection lost")
)

// ConnectionState 客户端会话状态
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "disconnected"
	}
}

// 对外展示的连接状态文本（StatusChanged 事件）
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusFailed       = "failed"
)

// RemotePlayer 远端玩家的最新已知状态
type RemotePlayer = protocol.PlayerState
