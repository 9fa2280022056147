package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage        = errors.New("malformed message")
	ErrUnrecognizedMessageType = errors.New("unrecognized message type")
)

// 上行位置消息示例：{"action":"pos","x":12.5,"y":-3}
type posOut struct {
	Action string  `json:"action"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// 下行消息的公共外壳；字段使用指针以区分“缺失”与“零值”
type envelope struct {
	Type         *string       `json:"type"`
	YourID       *string       `json:"your_id"`
	LobbyPlayers *[]playerWire `json:"lobby_players"`
	ID           *string       `json:"id"`
	X            *float64      `json:"x"`
	Y            *float64      `json:"y"`
	Message      *string       `json:"message"`
}

type playerWire struct {
	ID *string  `json:"id"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
}

// EncodePosition 编码位置上报
func EncodePosition(u PositionUpdate) ([]byte, error) {
	return json.Marshal(posOut{Action: ActionPos, X: u.Pos.X, Y: u.Pos.Y})
}

// Decode 解析一帧下行文本。
// 未知 type 返回 Unrecognized 且 err 为 nil；无法解析或缺少必需字段时返回 ErrMalformedMessage。
func Decode(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(err, ErrMalformedMessage)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch *env.Type {
	case TypeWelcome:
		if env.YourID == nil {
			return nil, missing(TypeWelcome, "your_id")
		}
		if env.LobbyPlayers == nil {
			return nil, missing(TypeWelcome, "lobby_players")
		}
		players := make([]PlayerState, 0, len(*env.LobbyPlayers))
		for i, p := range *env.LobbyPlayers {
			if p.ID == nil || p.X == nil || p.Y == nil {
				return nil, fmt.Errorf("%w: welcome lobby_players[%d] requires id, x and y", ErrMalformedMessage, i)
			}
			players = append(players, PlayerState{ID: *p.ID, Pos: Vec2{X: *p.X, Y: *p.Y}})
		}
		return Welcome{YourID: *env.YourID, Players: players}, nil

	case TypeJoin, TypePos:
		if env.ID == nil {
			return nil, missing(*env.Type, "id")
		}
		if env.X == nil || env.Y == nil {
			return nil, missing(*env.Type, "x/y")
		}
		p := PlayerState{ID: *env.ID, Pos: Vec2{X: *env.X, Y: *env.Y}}
		if *env.Type == TypeJoin {
			return Join{Player: p}, nil
		}
		return Position{Player: p}, nil

	case TypeLeave:
		if env.ID == nil {
			return nil, missing(TypeLeave, "id")
		}
		return Leave{ID: *env.ID}, nil

	case TypeError:
		if env.Message == nil {
			return nil, missing(TypeError, "message")
		}
		return ServerError{Message: *env.Message}, nil

	default:
		return Unrecognized{RawType: *env.Type}, nil
	}
}

func missing(typ string, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMalformedMessage, typ, field)
}
