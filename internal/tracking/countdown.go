package tracking

import (
	"sync"
	"time"
)

const tickDefault = time.Second

// Countdown emits a TimerTick every interval until stopped. Ticks are
// handed over on an unbuffered channel, so once Stop returns no further
// tick can be received.
type Countdown struct {
	interval time.Duration
	ticks    chan TimerTick
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// StartCountdown starts ticking immediately.
func StartCountdown(interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = tickDefault
	}
	c := &Countdown{
		interval: interval,
		ticks:    make(chan TimerTick),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// C delivers the ticks.
func (c *Countdown) C() <-chan TimerTick { return c.ticks }

// Stop halts the countdown and waits for its goroutine to exit. It is safe
// to call more than once.
func (c *Countdown) Stop() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Countdown) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			select {
			case c.ticks <- TimerTick{Elapsed: c.interval}:
			case <-c.stop:
				return
			}
		}
	}
}
