package client

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock supplies time and delayed callbacks. Times from the real clock carry
// a monotonic reading, so cooldowns survive wall clock jumps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Cooldown is the resend gate. Remaining is recomputed from Deadline on every
// tick instead of being decremented, so a suspended process catches up.
type Cooldown struct {
	Deadline  time.Time
	Remaining int
}

// StartCooldown returns a cooldown of seconds starting at now.
func StartCooldown(now time.Time, seconds int) Cooldown {
	if seconds < 0 {
		seconds = 0
	}
	return Cooldown{
		Deadline:  now.Add(time.Duration(seconds) * time.Second),
		Remaining: seconds,
	}
}

// At returns the cooldown as seen at now, rounded up to whole seconds.
func (c Cooldown) At(now time.Time) Cooldown {
	left := c.Deadline.Sub(now)
	if left <= 0 {
		c.Remaining = 0
		return c
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	c.Remaining = secs
	return c
}

func (c Cooldown) Ready() bool {
	return c.Remaining == 0
}
