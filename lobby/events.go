package lobby

import "lobbylink/protocol"

// Event 发给玩法/UI 协作者的通知（封闭联合）
type Event interface{ isLobbyEvent() }

// ConnectedEvent 握手成功
type ConnectedEvent struct{}

// DisconnectedEvent 已建立的连接断开；Err 为 nil 表示主动断开
type DisconnectedEvent struct {
	Err error
}

// ConnectionFailedEvent 连接未能建立（超时、拨号失败、握手中断、缺少地址）
type ConnectionFailedEvent struct {
	Reason string
	Err    error
}

type PlayerJoinedEvent struct {
	Player RemotePlayer
}

type PlayerLeftEvent struct {
	ID string
}

type PlayerPositionUpdatedEvent struct {
	ID  string
	Pos protocol.Vec2
}

// LobbyStateReceivedEvent welcome 全量同步，Players 为服务端原始列表（可能包含本地玩家）
type LobbyStateReceivedEvent struct {
	Players []RemotePlayer
}

type StatusChangedEvent struct {
	Status string
}

func (ConnectedEvent) isLobbyEvent()             {}
func (DisconnectedEvent) isLobbyEvent()          {}
func (ConnectionFailedEvent) isLobbyEvent()      {}
func (PlayerJoinedEvent) isLobbyEvent()          {}
func (PlayerLeftEvent) isLobbyEvent()            {}
func (PlayerPositionUpdatedEvent) isLobbyEvent() {}
func (LobbyStateReceivedEvent) isLobbyEvent()    {}
func (StatusChangedEvent) isLobbyEvent()         {}

// Handler 事件回调；在 Tick 线程中按产生顺序同步调用
type Handler func(Event)

// eventQueue 先缓存本次调用中产生的事件，状态更新完成后再统一派发，
// 回调中再次调用 Client 方法时新事件排在队尾，顺序不变。
type eventQueue struct {
	handlers map[int]Handler
	order    []int
	nextID   int
	pending  []Event
	flushing bool
}

func (q *eventQueue) subscribe(h Handler) func() {
	if q.handlers == nil {
		q.handlers = make(map[int]Handler)
	}
	id := q.nextID
	q.nextID++
	q.handlers[id] = h
	q.order = append(q.order, id)

	return func() {
		delete(q.handlers, id)
		for i, v := range q.order {
			if v == id {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
	}
}

func (q *eventQueue) push(ev Event) {
	q.pending = append(q.pending, ev)
}

func (q *eventQueue) flush() {
	if q.flushing {
		return
	}
	q.flushing = true
	defer func() { q.flushing = false }()

	for len(q.pending) > 0 {
		ev := q.pending[0]
		q.pending = q.pending[1:]
		for _, id := range append([]int(nil), q.order...) {
			if h, ok := q.handlers[id]; ok {
				h(ev)
			}
		}
	}
	q.pending = nil
}

func (q *eventQueue) reset() {
	q.handlers = nil
	q.order = nil
}
