package lobby

import (
	"errors"
	"iter"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"lobbylink/config"
	"lobbylink/protocol"
	"lobbylink/transport"
)

// Transport 客户端依赖的底层会话；transport.Session 为 WebSocket 实现
type Transport interface {
	Open(url string) error
	Close()
	Send(b []byte) error
	PollState() transport.State
	PollIncoming() iter.Seq[[]byte]
}

// Client 大厅客户端状态机。
// 除 Status 外的所有方法都必须在同一个逻辑线程（驱动 Tick 的帧循环）中调用。
type Client struct {
	cfg       config.Settings
	transport Transport
	log       *zap.SugaredLogger
	events    eventQueue
	players   *Directory
	metrics   *ClientMetrics
	reconnect deferredCall

	state          ConnectionState
	retryCount     int
	connectTimer   time.Duration
	broadcastTimer time.Duration
	localID        string
	lastSent       protocol.Vec2
	lastFailure    string

	// beforeAdvance 为 true 表示处于本帧推进重连计时之前
	beforeAdvance bool

	status atomic.Pointer[Status]
}

// NewClient 创建客户端。localID 为空时使用配置中的 player_id，仍为空则生成一个 UUID。
// logger 为 nil 时使用包级 Log。
func NewClient(cfg config.Settings, t Transport, localID string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = Log
	}
	if localID == "" {
		localID = cfg.PlayerID
	}
	if localID == "" {
		localID = uuid.Must(uuid.NewV4()).String()
	}

	c := &Client{
		cfg:       cfg,
		transport: t,
		log:       logger,
		players:   NewDirectory(),
		metrics:   &ClientMetrics{},
		state:     Disconnected,
		localID:   localID,
	}
	c.publish()
	return c
}

// Subscribe 注册事件回调，返回取消函数
func (c *Client) Subscribe(h Handler) func() {
	return c.events.subscribe(h)
}

// Connect 由外部调用的连接请求。
// 已在连接中或已连接时为空操作；会取消尚未触发的自动重连，并把重试计数归零后再计数。
func (c *Client) Connect() error {
	defer c.flush()

	if c.state == Connecting || c.state == Connected {
		return nil
	}
	c.reconnect.cancel()
	c.retryCount = 0

	return c.connect()
}

func (c *Client) connect() error {
	if c.state == Connecting || c.state == Connected {
		return nil
	}
	if c.cfg.ServerURL == "" {
		c.log.Errorf("lobby connect: %v", ErrConfiguration)
		c.fail("missing server url", ErrConfiguration)
		return ErrConfiguration
	}

	c.retryCount++
	c.connectTimer = 0
	c.metrics.IncConnectAttempts()

	target := c.connectURL()
	c.log.Infof("lobby connecting: %s (attempt %d/%d)", target, c.retryCount, c.cfg.MaxRetryAttempts)

	if err := c.transport.Open(target); err != nil {
		c.state = Disconnected
		c.log.Warnf("lobby open failed: %v", err)
		c.fail(err.Error(), errors.Join(err, ErrConnect))
		c.scheduleReconnect()
		return errors.Join(err, ErrConnect)
	}

	c.state = Connecting
	c.events.push(StatusChangedEvent{Status: StatusConnecting})
	return nil
}

// connectURL 在配置地址后附加 pid 查询参数
func (c *Client) connectURL() string {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		// 交给 transport 报告地址错误
		return c.cfg.ServerURL + "?pid=" + url.QueryEscape(c.localID)
	}
	q := u.Query()
	q.Set("pid", c.localID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Disconnect 主动断开：取消待触发的重连，关闭连接，清空计数与远端目录。不会触发自动重连。
// 已处于 Disconnected（例如连接丢失后正在等待重连）时只做清理，不再发出 Disconnected 与 "disconnected" 事件。
func (c *Client) Disconnect() {
	defer c.flush()

	c.reconnect.cancel()

	wasActive := c.state != Disconnected
	if wasActive {
		c.state = Closing
	}
	c.transport.Close()

	c.retryCount = 0
	c.connectTimer = 0
	c.broadcastTimer = 0
	c.lastSent = protocol.Vec2{}
	c.players.Reset()
	c.state = Disconnected

	if wasActive {
		c.log.Info("lobby disconnected by request")
		c.events.push(DisconnectedEvent{})
		c.events.push(StatusChangedEvent{Status: StatusDisconnected})
	}
}

// Close 应用退出时调用：断开并移除所有回调
func (c *Client) Close() {
	c.Disconnect()
	c.events.reset()
}

// SendPositionUpdate 尝试上报本地位置；只有在已连接、距上次发送超过间隔且位移超过死区时才真正发送。
// 返回是否发出了一帧。
func (c *Client) SendPositionUpdate(pos protocol.Vec2) bool {
	if c.state != Connected {
		c.log.Debugf("position update dropped: %v", transport.ErrNotConnected)
		return false
	}
	if c.broadcastTimer < c.cfg.PositionBroadcastInterval ||
		pos.DistanceTo(c.lastSent) < c.cfg.PositionDeadBand {
		c.metrics.IncUpdatesSuppressed()
		return false
	}

	b, err := protocol.EncodePosition(protocol.PositionUpdate{Pos: pos})
	if err != nil {
		c.log.Errorf("encode position: %v", err)
		return false
	}
	if err := c.transport.Send(b); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			c.log.Debugf("position update dropped: %v", err)
		} else {
			c.log.Warnf("position update failed: %v", err)
		}
		return false
	}

	c.lastSent = pos
	c.broadcastTimer = 0
	c.metrics.IncFramesSent()
	return true
}

// State 当前会话状态
func (c *Client) State() ConnectionState { return c.state }

// LocalPlayerID 本地玩家 id（可能被 welcome 改写）
func (c *Client) LocalPlayerID() string { return c.localID }

// RetryCount 当前重试计数
func (c *Client) RetryCount() int { return c.retryCount }

// LastFailure 最近一次 ConnectionFailed 的原因，连接成功后清空
func (c *Client) LastFailure() string { return c.lastFailure }

// ReconnectPending 是否有尚未触发的自动重连
func (c *Client) ReconnectPending() bool { return c.reconnect.pending() }

// Players 远端玩家副本（按 id 排序）
func (c *Client) Players() []RemotePlayer { return c.players.Snapshot() }

// Player 按 id 查询远端玩家
func (c *Client) Player(id string) (RemotePlayer, bool) { return c.players.Get(id) }

// Metrics 运行指标
func (c *Client) Metrics() *ClientMetrics { return c.metrics }

func (c *Client) fail(reason string, err error) {
	c.lastFailure = reason
	c.events.push(ConnectionFailedEvent{Reason: reason, Err: err})
	c.events.push(StatusChangedEvent{Status: StatusFailed})
}

// scheduleReconnect 在允许且未超出重试上限时安排一次延迟重连
func (c *Client) scheduleReconnect() {
	if !c.cfg.AutoReconnect {
		return
	}
	if c.retryCount >= c.cfg.MaxRetryAttempts {
		c.log.Warnf("lobby giving up after %d attempts", c.retryCount)
		return
	}
	c.reconnect.schedule(c.cfg.ReconnectDelay, c.beforeAdvance)
	c.metrics.IncReconnectsScheduled()
	c.log.Infof("lobby reconnect in %s (retry %d/%d)", c.cfg.ReconnectDelay, c.retryCount, c.cfg.MaxRetryAttempts)
}

func (c *Client) onOpen() {
	c.state = Connected
	c.retryCount = 0
	c.connectTimer = 0
	c.broadcastTimer = 0
	c.lastFailure = ""
	c.log.Infof("lobby connected as %s", c.localID)
	c.events.push(ConnectedEvent{})
	c.events.push(StatusChangedEvent{Status: StatusConnected})
}

func (c *Client) onClosed() {
	wasConnected := c.state == Connected
	c.state = Disconnected
	c.connectTimer = 0
	c.transport.Close()

	if wasConnected {
		c.log.Warn("lobby connection lost")
		c.events.push(DisconnectedEvent{Err: ErrConnectionLost})
	} else {
		c.log.Warn("lobby connection lost during handshake")
		c.lastFailure = "lost during handshake"
		c.events.push(ConnectionFailedEvent{Reason: c.lastFailure, Err: ErrConnectionLost})
	}
	c.events.push(StatusChangedEvent{Status: StatusDisconnected})
	c.scheduleReconnect()
}

func (c *Client) onTimeout() {
	c.log.Warnf("lobby handshake timed out after %s", c.connectTimer)
	c.transport.Close()
	c.state = Disconnected
	c.connectTimer = 0
	c.fail("timeout", ErrTimeout)
	c.scheduleReconnect()
}

// handle 按消息类型更新目录并产生事件
func (c *Client) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Welcome:
		if m.YourID != "" && m.YourID != c.localID {
			c.log.Infof("lobby assigned id %s (was %s)", m.YourID, c.localID)
			c.localID = m.YourID
		}
		c.players.Reset()
		for _, p := range m.Players {
			if p.ID == "" || p.ID == c.localID {
				continue
			}
			c.players.Upsert(p.ID, p.Pos)
		}
		c.events.push(LobbyStateReceivedEvent{Players: append([]RemotePlayer(nil), m.Players...)})

	case protocol.Join:
		if c.isSelfOrEmpty(m.Player.ID) {
			return
		}
		c.players.Upsert(m.Player.ID, m.Player.Pos)
		c.events.push(PlayerJoinedEvent{Player: m.Player})

	case protocol.Leave:
		if c.isSelfOrEmpty(m.ID) {
			return
		}
		if c.players.Remove(m.ID) {
			c.events.push(PlayerLeftEvent{ID: m.ID})
		}

	case protocol.Position:
		if c.isSelfOrEmpty(m.Player.ID) {
			return
		}
		c.players.Upsert(m.Player.ID, m.Player.Pos)
		c.events.push(PlayerPositionUpdatedEvent{ID: m.Player.ID, Pos: m.Player.Pos})

	case protocol.ServerError:
		c.log.Warnf("lobby server error: %s", m.Message)

	case protocol.Unrecognized:
		c.metrics.IncUnrecognizedDropped()
		c.log.Debugf("discarding message: %v", m.Err())
	}
}

func (c *Client) isSelfOrEmpty(id string) bool {
	return id == "" || id == c.localID
}

func (c *Client) flush() {
	c.publish()
	c.events.flush()
}
