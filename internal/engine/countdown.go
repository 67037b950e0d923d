package engine

import (
	"fmt"
	"time"
)

// Clock is the wall clock the countdown reads.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Ticker is a repeating timer handle. Stop must release it.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates the countdown ticker when a session becomes active.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

// Remaining is the number of whole seconds left at now. It is derived from
// the start anchor on every call, so a suspended process resumes at the
// correct value instead of stepping through the seconds it missed.
func Remaining(startedAt time.Time, durationSec int, now time.Time) int {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, durationSec-int(elapsed/time.Second))
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(sec int) string {
	sec = max(sec, 0)
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

// countdown owns the one live ticker of the active session. It is only
// touched from the engine loop.
type countdown struct {
	newTicker TickerFactory
	interval  time.Duration
	ticker    Ticker
}

// start replaces any running ticker.
func (c *countdown) start() {
	c.stop()
	c.ticker = c.newTicker(c.interval)
}

func (c *countdown) stop() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *countdown) running() bool { return c.ticker != nil }

// ch is nil while stopped, which blocks forever in a select.
func (c *countdown) ch() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}
