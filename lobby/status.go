package lobby

// Status 每帧结束时发布的只读快照，可在任意协程读取
type Status struct {
	State            string         `json:"state"`
	LocalPlayerID    string         `json:"local_player_id"`
	RetryCount       int            `json:"retry_count"`
	ReconnectPending bool           `json:"reconnect_pending"`
	LastFailure      string         `json:"last_failure,omitempty"`
	Players          []PlayerView   `json:"players"`
	Metrics          map[string]any `json:"metrics"`
}

// PlayerView 对外输出的玩家状态
type PlayerView struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Status 返回最近一次发布的快照
func (c *Client) Status() Status {
	return *c.status.Load()
}

func (c *Client) publish() {
	players := c.players.Snapshot()
	views := make([]PlayerView, 0, len(players))
	for _, p := range players {
		views = append(views, PlayerView{ID: p.ID, X: p.Pos.X, Y: p.Pos.Y})
	}

	c.status.Store(&Status{
		State:            c.state.String(),
		LocalPlayerID:    c.localID,
		RetryCount:       c.retryCount,
		ReconnectPending: c.reconnect.pending(),
		LastFailure:      c.lastFailure,
		Players:          views,
		Metrics:          c.metrics.Snapshot(),
	})
}
