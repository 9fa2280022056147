package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrInvalidURL    = errors.New("invalid websocket url")
	ErrNotConnected  = errors.New("transport not connected")
	ErrSendQueueFull = errors.New("send queue full")
)

// State 底层连接状态
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

const (
	sendQueueSize  = 64
	inboxSize      = 256
	readLimit      = 1 << 20 // 1MB
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxDialTimeout = 30 * time.Second
)

// Session 客户端侧的 WebSocket 会话：
// Open 立即返回，拨号在后台完成；读写由独立协程负责，调用方通过 PollState / PollIncoming 轮询结果。
type Session struct {
	log    *zap.SugaredLogger
	dialer *websocket.Dialer

	mu     sync.Mutex
	gen    uint64 // 每次 Open 递增，旧连接的协程据此判断自己是否过期
	state  State
	conn   *websocket.Conn
	send   chan []byte
	inbox  chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession 创建会话；logger 为 nil 时不输出日志
func NewSession(logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Session{
		log: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: maxDialTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		state: StateClosed,
	}
}

// Open 校验地址并在后台发起拨号（非阻塞）。
// 地址非法时立即返回 ErrInvalidURL，状态保持 closed。已有连接会先被关闭。
func (s *Session) Open(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Join(err, ErrInvalidURL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	s.Close()

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.cancel = cancel
	s.inbox = make(chan []byte, inboxSize)
	s.send = make(chan []byte, sendQueueSize)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.dial(ctx, gen, u.String())

	return nil
}

func (s *Session) dial(ctx context.Context, gen uint64, target string) {
	s.log.Debugf("ws dial: %s", target)

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		// 拨号期间已被 Close 或重新 Open
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.state = StateClosed
		s.mu.Unlock()
		if resp != nil {
			s.log.Warnf("ws dial failed: %s (%v)", resp.Status, err)
		} else {
			s.log.Warnf("ws dial failed: %v", err)
		}
		return
	}
	s.conn = conn
	s.state = StateOpen
	send, inbox, done := s.send, s.inbox, s.done
	s.mu.Unlock()

	s.log.Infof("ws connected: %s", target)

	go s.writePump(gen, conn, send, done)
	go s.readPump(gen, conn, inbox)
}

// Close 关闭当前连接并取消进行中的拨号；可重复调用
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed && s.conn == nil && s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	conn := s.conn
	cancel := s.cancel
	done := s.done
	s.conn = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		// 通知写协程退出；send 通道本身不关闭，避免并发 Send 向已关闭通道写入
		close(done)
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.state = StateClosed
	}
	s.mu.Unlock()
}

// Send 将一帧文本压入发送队列（非阻塞）。未连接返回 ErrNotConnected，队列满返回 ErrSendQueueFull。
func (s *Session) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return ErrNotConnected
	}

	select {
	case s.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// PollState 返回当前连接状态
func (s *Session) PollState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// PollIncoming 返回本次轮询时已到达的全部消息（按到达顺序）。
// 只取调用时刻队列中的数量，保证单次轮询有限。
func (s *Session) PollIncoming() iter.Seq[[]byte] {
	s.mu.Lock()
	inbox := s.inbox
	s.mu.Unlock()

	return func(yield func([]byte) bool) {
		if inbox == nil {
			return
		}
		for n := len(inbox); n > 0; n-- {
			select {
			case msg := <-inbox:
				if !yield(msg) {
					return
				}
			default:
				return
			}
		}
	}
}

// markClosed 读写协程出错时调用；只影响同一代连接
func (s *Session) markClosed(gen uint64, conn *websocket.Conn) {
	s.mu.Lock()
	if gen != s.gen || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.conn = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	_ = conn.Close()
}

// writePump 独立协程，负责把发送队列写出到 WS，并定期发送 ping 保活
func (s *Session) writePump(gen uint64, conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Warnf("ws write: %v", err)
				s.markClosed(gen, conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Warnf("ws ping: %v", err)
				s.markClosed(gen, conn)
				return
			}
		}
	}
}

// readPump 读取服务端消息并放入收件箱，由 Tick 线程统一取出
func (s *Session) readPump(gen uint64, conn *websocket.Conn, inbox chan<- []byte) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warnf("ws read: %v", err)
			} else {
				s.log.Debugf("ws read closed: %v", err)
			}
			s.markClosed(gen, conn)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case inbox <- payload:
		default:
			// Tick 长时间未取走消息，丢弃以免阻塞读协程
			s.log.Warnf("ws inbox full, dropping %d bytes", len(payload))
		}
	}
}
