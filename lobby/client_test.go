package lobby

import (
	"errors"
	"iter"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lobbylink/config"
	"lobbylink/protocol"
	"lobbylink/transport"
)

const testURL = "ws://lobby.test/ws"

// fakeTransport 脚本化的传输层：由测试直接设置状态与下行消息
type fakeTransport struct {
	state     transport.State
	openErr   error
	openCalls []string
	closes    int
	sent      [][]byte
	inbox     [][]byte

	// afterPollState 在下一次 PollState 返回旧状态之后执行一次，模拟后台拨号恰好在轮询间隙完成
	afterPollState func()
}

func (f *fakeTransport) Open(url string) error {
	f.openCalls = append(f.openCalls, url)
	if f.openErr != nil {
		return f.openErr
	}
	f.state = transport.StateConnecting
	return nil
}

func (f *fakeTransport) Close() {
	f.closes++
	f.state = transport.StateClosed
}

func (f *fakeTransport) Send(b []byte) error {
	if f.state != transport.StateOpen {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeTransport) PollState() transport.State {
	s := f.state
	if h := f.afterPollState; h != nil {
		f.afterPollState = nil
		h()
	}
	return s
}

func (f *fakeTransport) PollIncoming() iter.Seq[[]byte] {
	msgs := f.inbox
	f.inbox = nil
	return func(yield func([]byte) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}

func (f *fakeTransport) push(msgs ...string) {
	for _, m := range msgs {
		f.inbox = append(f.inbox, []byte(m))
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) handle(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) statuses() []string {
	var out []string
	for _, ev := range r.events {
		if s, ok := ev.(StatusChangedEvent); ok {
			out = append(out, s.Status)
		}
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

func eventsOf[T Event](r *recorder) []T {
	var out []T
	for _, ev := range r.events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func testSettings() config.Settings {
	cfg := config.Default()
	cfg.ServerURL = testURL
	return cfg
}

func newTestClient(t *testing.T, cfg config.Settings) (*Client, *fakeTransport, *recorder) {
	t.Helper()

	ft := &fakeTransport{}
	rec := &recorder{}
	c := NewClient(cfg, ft, "me", nil)
	c.Subscribe(rec.handle)
	return c, ft, rec
}

// connected 走完 Connect → Open 的流程并清空已记录的事件
func connected(t *testing.T, cfg config.Settings) (*Client, *fakeTransport, *recorder) {
	t.Helper()

	c, ft, rec := newTestClient(t, cfg)
	require.NoError(t, c.Connect())
	ft.state = transport.StateOpen
	c.Tick(16 * time.Millisecond)
	require.Equal(t, Connected, c.State())
	rec.reset()
	return c, ft, rec
}

func playerIDs(c *Client) []string {
	var ids []string
	for _, p := range c.Players() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestNewClientGeneratesID(t *testing.T) {
	c := NewClient(testSettings(), &fakeTransport{}, "", nil)
	require.NotEmpty(t, c.LocalPlayerID())

	cfg := testSettings()
	cfg.PlayerID = "configured"
	require.Equal(t, "configured", NewClient(cfg, &fakeTransport{}, "", nil).LocalPlayerID())
	require.Equal(t, "given", NewClient(cfg, &fakeTransport{}, "given", nil).LocalPlayerID())
}

func TestConnectWithoutURL(t *testing.T) {
	cfg := testSettings()
	cfg.ServerURL = ""
	c, ft, rec := newTestClient(t, cfg)

	err := c.Connect()
	require.ErrorIs(t, err, ErrConfiguration)
	require.Equal(t, Disconnected, c.State())
	require.Empty(t, ft.openCalls)
	require.False(t, c.ReconnectPending())

	failures := eventsOf[ConnectionFailedEvent](rec)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0].Err, ErrConfiguration)
}

func TestConnectOpensWithPlayerID(t *testing.T) {
	c, ft, rec := newTestClient(t, testSettings())

	require.NoError(t, c.Connect())
	require.Equal(t, Connecting, c.State())
	require.Equal(t, []string{testURL + "?pid=me"}, ft.openCalls)
	require.Equal(t, 1, c.RetryCount())
	require.Equal(t, []string{StatusConnecting}, rec.statuses())

	// 连接中再次调用为空操作
	require.NoError(t, c.Connect())
	require.Len(t, ft.openCalls, 1)
	require.Equal(t, 1, c.RetryCount())
}

func TestConnectKeepsExistingQuery(t *testing.T) {
	cfg := testSettings()
	cfg.ServerURL = testURL + "?room=alpha"
	c, ft, _ := newTestClient(t, cfg)

	require.NoError(t, c.Connect())
	require.Equal(t, []string{testURL + "?pid=me&room=alpha"}, ft.openCalls)
}

func TestOpenFailureReportsConnectError(t *testing.T) {
	c, ft, rec := newTestClient(t, testSettings())
	ft.openErr = transport.ErrInvalidURL

	err := c.Connect()
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, transport.ErrInvalidURL)
	require.Equal(t, Disconnected, c.State())
	require.Len(t, eventsOf[ConnectionFailedEvent](rec), 1)
	require.Equal(t, []string{StatusFailed}, rec.statuses())
	require.NotEmpty(t, c.LastFailure())
}

func TestTransportOpenTransitionsToConnected(t *testing.T) {
	c, ft, rec := newTestClient(t, testSettings())
	require.NoError(t, c.Connect())
	rec.reset()

	c.Tick(16 * time.Millisecond)
	require.Equal(t, Connecting, c.State())

	ft.state = transport.StateOpen
	c.Tick(16 * time.Millisecond)
	require.Equal(t, Connected, c.State())
	require.Equal(t, 0, c.RetryCount())
	require.Len(t, eventsOf[ConnectedEvent](rec), 1)
	require.Equal(t, []string{StatusConnected}, rec.statuses())
}

func TestWelcomeReplacesDirectory(t *testing.T) {
	c, ft, rec := connected(t, testSettings())

	ft.push(`{"type":"join","id":"stale","x":0,"y":0}`)
	c.Tick(time.Millisecond)
	require.Equal(t, []string{"stale"}, playerIDs(c))
	rec.reset()

	ft.push(`{"type":"welcome","your_id":"p2","lobby_players":[{"id":"p2","x":1,"y":2},{"id":"p9","x":3,"y":4}]}`)
	c.Tick(time.Millisecond)

	require.Equal(t, "p2", c.LocalPlayerID())
	require.Equal(t, []RemotePlayer{{ID: "p9", Pos: protocol.Vec2{X: 3, Y: 4}}}, c.Players())

	states := eventsOf[LobbyStateReceivedEvent](rec)
	require.Len(t, states, 1)
	require.Len(t, states[0].Players, 2)
}

func TestWelcomeIsIdempotent(t *testing.T) {
	c, ft, _ := connected(t, testSettings())
	welcome := `{"type":"welcome","your_id":"me","lobby_players":[{"id":"a","x":1,"y":1},{"id":"b","x":2,"y":2}]}`

	ft.push(welcome)
	c.Tick(time.Millisecond)
	first := c.Players()

	ft.push(welcome)
	c.Tick(time.Millisecond)
	require.Equal(t, first, c.Players())
	require.Equal(t, []string{"a", "b"}, playerIDs(c))
}

func TestLeaveRemovesPlayer(t *testing.T) {
	c, ft, rec := connected(t, testSettings())
	ft.push(`{"type":"join","id":"p9","x":3,"y":4}`)
	c.Tick(time.Millisecond)
	rec.reset()

	ft.push(`{"type":"leave","id":"p9"}`, `{"type":"leave","id":"p9"}`)
	c.Tick(time.Millisecond)

	require.Empty(t, c.Players())
	left := eventsOf[PlayerLeftEvent](rec)
	require.Equal(t, []PlayerLeftEvent{{ID: "p9"}}, left)
}

func TestJoinAndPositionUpdates(t *testing.T) {
	c, ft, rec := connected(t, testSettings())

	ft.push(`{"type":"join","id":"a","x":1,"y":1}`)
	ft.push(`{"type":"pos","id":"a","x":5,"y":6}`)
	ft.push(`{"type":"pos","id":"ghost","x":7,"y":8}`)
	c.Tick(time.Millisecond)

	a, ok := c.Player("a")
	require.True(t, ok)
	require.Equal(t, protocol.Vec2{X: 5, Y: 6}, a.Pos)

	ghost, ok := c.Player("ghost")
	require.True(t, ok, "pos for an unseen id creates the entry")
	require.Equal(t, protocol.Vec2{X: 7, Y: 8}, ghost.Pos)

	require.Len(t, eventsOf[PlayerJoinedEvent](rec), 1)
	require.Equal(t, []PlayerPositionUpdatedEvent{
		{ID: "a", Pos: protocol.Vec2{X: 5, Y: 6}},
		{ID: "ghost", Pos: protocol.Vec2{X: 7, Y: 8}},
	}, eventsOf[PlayerPositionUpdatedEvent](rec))
}

func TestIgnoresLocalAndEmptyIDs(t *testing.T) {
	c, ft, rec := connected(t, testSettings())

	ft.push(
		`{"type":"join","id":"me","x":1,"y":1}`,
		`{"type":"pos","id":"me","x":1,"y":1}`,
		`{"type":"join","id":"","x":1,"y":1}`,
		`{"type":"pos","id":"","x":1,"y":1}`,
		`{"type":"leave","id":"me"}`,
		`{"type":"leave","id":""}`,
	)
	c.Tick(time.Millisecond)

	require.Empty(t, c.Players())
	require.Empty(t, rec.events)
}

func TestBadMessagesDoNotAbortSession(t *testing.T) {
	c, ft, _ := connected(t, testSettings())

	ft.push(
		`not json at all`,
		`{"type":"chat","text":"hi"}`,
		`{"type":"error","message":"slow down"}`,
		`{"type":"join","id":"a"}`,
		`{"type":"join","id":"b","x":1,"y":2}`,
	)
	c.Tick(time.Millisecond)

	require.Equal(t, Connected, c.State())
	require.Equal(t, []string{"b"}, playerIDs(c))

	snap := c.Metrics().Snapshot()
	require.EqualValues(t, 5, snap["messages_received"])
	require.EqualValues(t, 2, snap["malformed_dropped"])
	require.EqualValues(t, 1, snap["unrecognized_dropped"])
}

func TestMessagesWaitForOpen(t *testing.T) {
	c, ft, _ := newTestClient(t, testSettings())
	require.NoError(t, c.Connect())

	ft.push(`{"type":"join","id":"early","x":1,"y":1}`)
	c.Tick(time.Millisecond)

	require.Empty(t, c.Players())
	require.Len(t, ft.inbox, 1, "frames stay queued until the open is observed")

	ft.state = transport.StateOpen
	c.Tick(time.Millisecond)
	require.Equal(t, Connected, c.State())
	require.Equal(t, []string{"early"}, playerIDs(c))
}

func TestWelcomeArrivingDuringHandshakeIsKept(t *testing.T) {
	c, ft, rec := newTestClient(t, testSettings())
	require.NoError(t, c.Connect())

	// 本帧读到 connecting 之后，拨号完成且 welcome 已进入收件箱
	ft.afterPollState = func() {
		ft.state = transport.StateOpen
		ft.push(`{"type":"welcome","your_id":"me","lobby_players":[{"id":"me","x":0,"y":0},{"id":"bob","x":5,"y":5}]}`)
	}
	c.Tick(time.Millisecond)
	require.Equal(t, Connecting, c.State())
	require.Empty(t, c.Players())

	c.Tick(time.Millisecond)
	require.Equal(t, Connected, c.State())
	require.Equal(t, []string{"bob"}, playerIDs(c))
	require.Len(t, eventsOf[LobbyStateReceivedEvent](rec), 1)
	require.EqualValues(t, 1, c.Metrics().Snapshot()["messages_received"])
}

// 目录的键集合始终等于“已 join 且未 leave”的 id 集合（不含本地 id）
func TestDirectoryTracksJoinedMinusLeft(t *testing.T) {
	c, ft, _ := connected(t, testSettings())
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d", "me", ""}
	model := map[string]bool{}

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		var msg string
		switch rng.Intn(3) {
		case 0:
			msg = `{"type":"join","id":"` + id + `","x":1,"y":2}`
			if id != "" && id != "me" {
				model[id] = true
			}
		case 1:
			msg = `{"type":"leave","id":"` + id + `"}`
			delete(model, id)
		default:
			msg = `{"type":"pos","id":"` + id + `","x":3,"y":4}`
			if id != "" && id != "me" {
				model[id] = true
			}
		}
		ft.push(msg)
		c.Tick(time.Millisecond)

		want := make([]string, 0, len(model))
		for k := range model {
			want = append(want, k)
		}
		sort.Strings(want)
		got := playerIDs(c)
		if got == nil {
			got = []string{}
		}
		require.Equal(t, want, got, "step %d: %s", i, msg)
	}
}

func TestSendPositionUpdateRateLimitAndDeadBand(t *testing.T) {
	cfg := testSettings()
	cfg.PositionBroadcastInterval = 200 * time.Millisecond
	cfg.PositionDeadBand = 5
	c, ft, _ := connected(t, cfg)

	// 间隔未到
	require.False(t, c.SendPositionUpdate(protocol.Vec2{X: 100, Y: 0}))

	c.Tick(200 * time.Millisecond)
	require.True(t, c.SendPositionUpdate(protocol.Vec2{X: 10, Y: 0}))
	require.Len(t, ft.sent, 1)
	require.JSONEq(t, `{"action":"pos","x":10,"y":0}`, string(ft.sent[0]))

	// 同一间隔内第二次发送被抑制
	c.Tick(100 * time.Millisecond)
	require.False(t, c.SendPositionUpdate(protocol.Vec2{X: 50, Y: 0}))

	// 间隔已到但位移小于死区
	c.Tick(100 * time.Millisecond)
	require.False(t, c.SendPositionUpdate(protocol.Vec2{X: 13, Y: 3.9}))
	require.Len(t, ft.sent, 1)

	require.True(t, c.SendPositionUpdate(protocol.Vec2{X: 13, Y: 4.1}))
	require.Len(t, ft.sent, 2)
}

func TestSendPositionUpdateWhileDisconnected(t *testing.T) {
	c, ft, _ := newTestClient(t, testSettings())
	c.Tick(time.Second)

	require.False(t, c.SendPositionUpdate(protocol.Vec2{X: 100, Y: 100}))
	require.Empty(t, ft.sent)
}

func TestConnectTimeout(t *testing.T) {
	cfg := testSettings()
	cfg.ConnectionTimeout = time.Second
	c, ft, rec := newTestClient(t, cfg)
	require.NoError(t, c.Connect())
	rec.reset()

	c.Tick(900 * time.Millisecond)
	require.Equal(t, Connecting, c.State())

	c.Tick(100 * time.Millisecond)
	require.Equal(t, Disconnected, c.State())
	require.Equal(t, 1, ft.closes)
	require.Equal(t, "timeout", c.LastFailure())

	failures := eventsOf[ConnectionFailedEvent](rec)
	require.Len(t, failures, 1)
	require.Equal(t, "timeout", failures[0].Reason)
	require.ErrorIs(t, failures[0].Err, ErrTimeout)
	require.Equal(t, []string{StatusFailed}, rec.statuses())
	require.True(t, c.ReconnectPending())
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	cfg := testSettings()
	cfg.ReconnectDelay = 2 * time.Second
	c, ft, rec := connected(t, cfg)
	require.Len(t, ft.openCalls, 1)

	ft.state = transport.StateClosed
	c.Tick(16 * time.Millisecond)

	require.Equal(t, Disconnected, c.State())
	disc := eventsOf[DisconnectedEvent](rec)
	require.Len(t, disc, 1)
	require.ErrorIs(t, disc[0].Err, ErrConnectionLost)
	require.Equal(t, []string{StatusDisconnected}, rec.statuses())
	require.True(t, c.ReconnectPending())

	c.Tick(1 * time.Second)
	require.Len(t, ft.openCalls, 1)

	c.Tick(1 * time.Second)
	require.Len(t, ft.openCalls, 2)
	require.Equal(t, Connecting, c.State())

	c.Tick(100 * time.Millisecond)
	require.Len(t, ft.openCalls, 2, "exactly one reconnect")
}

func TestHandshakeLoss(t *testing.T) {
	c, ft, rec := newTestClient(t, testSettings())
	require.NoError(t, c.Connect())
	rec.reset()

	ft.state = transport.StateClosed
	c.Tick(time.Millisecond)

	require.Equal(t, Disconnected, c.State())
	require.Empty(t, eventsOf[DisconnectedEvent](rec))
	failures := eventsOf[ConnectionFailedEvent](rec)
	require.Len(t, failures, 1)
	require.Equal(t, "lost during handshake", failures[0].Reason)
	require.Equal(t, []string{StatusDisconnected}, rec.statuses())
}

func TestRetriesStopAtLimit(t *testing.T) {
	cfg := testSettings()
	cfg.MaxRetryAttempts = 3
	cfg.ReconnectDelay = 500 * time.Millisecond
	c, ft, _ := newTestClient(t, cfg)
	ft.openErr = errors.New("refused")

	require.Error(t, c.Connect())
	for i := 0; i < 50; i++ {
		c.Tick(250 * time.Millisecond)
	}
	require.Len(t, ft.openCalls, 3)
	require.Equal(t, 3, c.RetryCount())
	require.False(t, c.ReconnectPending())
	require.Equal(t, Disconnected, c.State())

	// 手动 Connect 重新计数
	require.Error(t, c.Connect())
	require.Len(t, ft.openCalls, 4)
	require.Equal(t, 1, c.RetryCount())
}

func TestReconnectDelayAfterOpenFailure(t *testing.T) {
	cfg := testSettings()
	cfg.ReconnectDelay = 500 * time.Millisecond
	c, ft, _ := newTestClient(t, cfg)
	ft.openErr = errors.New("refused")

	require.Error(t, c.Connect())
	require.True(t, c.ReconnectPending())
	ft.openErr = nil

	// 在帧外安排的重连从下一帧起完整计时
	c.Tick(250 * time.Millisecond)
	require.Len(t, ft.openCalls, 1)

	c.Tick(250 * time.Millisecond)
	require.Len(t, ft.openCalls, 2)
	require.Equal(t, Connecting, c.State())
}

func TestReconnectDelayAfterFailedRetry(t *testing.T) {
	cfg := testSettings()
	cfg.ReconnectDelay = 500 * time.Millisecond
	c, ft, _ := newTestClient(t, cfg)
	ft.openErr = errors.New("refused")

	require.Error(t, c.Connect())
	c.Tick(250 * time.Millisecond)
	c.Tick(250 * time.Millisecond)
	require.Len(t, ft.openCalls, 2)
	require.True(t, c.ReconnectPending())

	// 重连在推进计时之后失败，下一帧的 dt 同样计入
	c.Tick(250 * time.Millisecond)
	require.Len(t, ft.openCalls, 2)
	c.Tick(250 * time.Millisecond)
	require.Len(t, ft.openCalls, 3)
}

func TestRetriesStopAtLimitWithTimeouts(t *testing.T) {
	cfg := testSettings()
	cfg.MaxRetryAttempts = 2
	cfg.ConnectionTimeout = time.Second
	cfg.ReconnectDelay = time.Second
	c, ft, rec := newTestClient(t, cfg)

	require.NoError(t, c.Connect())
	for i := 0; i < 40; i++ {
		c.Tick(250 * time.Millisecond)
	}
	require.Len(t, ft.openCalls, 2)
	require.Len(t, eventsOf[ConnectionFailedEvent](rec), 2)
	require.Equal(t, "timeout", c.LastFailure())
}

func TestAutoReconnectDisabled(t *testing.T) {
	cfg := testSettings()
	cfg.AutoReconnect = false
	c, ft, _ := connected(t, cfg)

	ft.state = transport.StateClosed
	c.Tick(time.Millisecond)
	c.Tick(time.Minute)

	require.False(t, c.ReconnectPending())
	require.Len(t, ft.openCalls, 1)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	c, ft, rec := connected(t, testSettings())
	ft.state = transport.StateClosed
	c.Tick(time.Millisecond)
	require.True(t, c.ReconnectPending())
	rec.reset()

	c.Disconnect()
	require.False(t, c.ReconnectPending())
	require.Empty(t, rec.events, "already disconnected, nothing new to report")

	c.Tick(time.Minute)
	c.Tick(time.Minute)
	require.Len(t, ft.openCalls, 1)
}

func TestDisconnectResetsSession(t *testing.T) {
	c, ft, rec := connected(t, testSettings())
	ft.push(`{"type":"join","id":"a","x":1,"y":1}`)
	c.Tick(time.Millisecond)
	rec.reset()

	c.Disconnect()
	require.Equal(t, Disconnected, c.State())
	require.Empty(t, c.Players())
	require.Equal(t, 0, c.RetryCount())
	require.Len(t, eventsOf[DisconnectedEvent](rec), 1)
	require.NoError(t, eventsOf[DisconnectedEvent](rec)[0].Err)
	require.Equal(t, []string{StatusDisconnected}, rec.statuses())
	require.False(t, c.ReconnectPending())

	// 重复断开是安全的
	rec.reset()
	c.Disconnect()
	require.Empty(t, rec.events)

	c.Tick(time.Minute)
	require.Len(t, ft.openCalls, 1)
}

func TestHandlersMayReenterClient(t *testing.T) {
	c, ft, rec := newTestClient(t, testSettings())
	c.Subscribe(func(ev Event) {
		if _, ok := ev.(ConnectedEvent); ok {
			c.Disconnect()
		}
	})

	require.NoError(t, c.Connect())
	ft.state = transport.StateOpen
	c.Tick(time.Millisecond)

	require.Equal(t, Disconnected, c.State())
	require.Equal(t, []string{StatusConnecting, StatusConnected, StatusDisconnected}, rec.statuses())
}

func TestUnsubscribe(t *testing.T) {
	c, _, _ := newTestClient(t, testSettings())
	var n int
	unsub := c.Subscribe(func(Event) { n++ })

	require.NoError(t, c.Connect())
	require.Equal(t, 1, n)

	unsub()
	c.Disconnect()
	require.Equal(t, 1, n)
}

func TestStatusSnapshot(t *testing.T) {
	c, ft, _ := connected(t, testSettings())
	ft.push(`{"type":"join","id":"a","x":1,"y":2}`)
	c.Tick(time.Millisecond)

	st := c.Status()
	require.Equal(t, "connected", st.State)
	require.Equal(t, "me", st.LocalPlayerID)
	require.Equal(t, []PlayerView{{ID: "a", X: 1, Y: 2}}, st.Players)

	// 快照不随后续修改变化
	ft.push(`{"type":"leave","id":"a"}`)
	c.Tick(time.Millisecond)
	require.Len(t, st.Players, 1)
	require.Empty(t, c.Status().Players)
}
