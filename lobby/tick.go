package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/ratelimit"

	"lobbylink/protocol"
	"lobbylink/transport"
)

// Tick 推进一帧：轮询连接状态 → 状态迁移 → 取出并分发下行消息 → 累计计时器（超时、上报间隔、延迟重连）。
// 不会阻塞；dt 为距上一帧的时间。
func (c *Client) Tick(dt time.Duration) {
	start := time.Now()
	c.beforeAdvance = true
	defer func() {
		c.metrics.AddTick(time.Since(start).Nanoseconds())
		c.flush()
	}()

	if c.state == Connecting || c.state == Connected {
		switch c.transport.PollState() {
		case transport.StateOpen:
			if c.state == Connecting {
				c.onOpen()
			}
		case transport.StateClosed:
			c.onClosed()
		}
	}

	c.drainIncoming()

	switch c.state {
	case Connecting:
		c.connectTimer += dt
		if c.connectTimer >= c.cfg.ConnectionTimeout {
			c.onTimeout()
		}
	case Connected:
		c.broadcastTimer += dt
	}

	c.beforeAdvance = false
	if c.reconnect.advance(dt) {
		c.log.Debug("lobby reconnect timer fired")
		if err := c.connect(); err != nil {
			c.log.Debugf("lobby reconnect: %v", err)
		}
	}
}

// drainIncoming 按到达顺序处理本帧所有下行消息。
// 未进入 Connected 前不取消息，握手期间到达的 welcome 留在传输层，等下一帧确认连接后再处理。
func (c *Client) drainIncoming() {
	if c.state != Connected {
		return
	}
	for payload := range c.transport.PollIncoming() {
		c.metrics.IncMessagesReceived()

		msg, err := protocol.Decode(payload)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				c.metrics.IncMalformedDropped()
			}
			c.log.Warnf("discarding malformed message: %v", err)
			continue
		}
		c.handle(msg)
	}
}

// Run 以 tickRate（每秒帧数）驱动帧循环直到 ctx 结束。
// frame 在每次 Tick 之前于同一协程中调用，协作者可在其中调用 SendPositionUpdate 等方法。
func (c *Client) Run(ctx context.Context, tickRate int, frame func(dt time.Duration)) {
	rl := ratelimit.New(tickRate)
	last := rl.Take()

	for {
		if ctx.Err() != nil {
			return
		}
		now := rl.Take()
		dt := now.Sub(last)
		last = now

		if frame != nil {
			frame(dt)
		}
		c.Tick(dt)
	}
}
