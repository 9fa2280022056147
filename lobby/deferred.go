package lobby

import "time"

// deferredCall 由 Tick 推进的一次性定时器（用于延迟重连），可取消。
// 在 Tick 推进计时之前安排时，当帧的 dt 不计入。
type deferredCall struct {
	delay   time.Duration
	elapsed time.Duration
	armed   bool
	fresh   bool
}

// schedule 安排一次调用；skipCurrent 为 true 时跳过下一次 advance 的 dt
func (d *deferredCall) schedule(delay time.Duration, skipCurrent bool) {
	d.delay = delay
	d.elapsed = 0
	d.armed = true
	d.fresh = skipCurrent
}

func (d *deferredCall) cancel() {
	d.armed = false
	d.fresh = false
	d.elapsed = 0
}

func (d *deferredCall) pending() bool {
	return d.armed
}

// advance 推进 dt；到期时解除并返回 true
func (d *deferredCall) advance(dt time.Duration) bool {
	if !d.armed {
		return false
	}
	if d.fresh {
		d.fresh = false
		return false
	}
	d.elapsed += dt
	if d.elapsed < d.delay {
		return false
	}
	d.armed = false
	return true
}
