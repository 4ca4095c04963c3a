package latency

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler runs task every d until the returned cancel func is called.
// Cancel must be safe to call more than once.
type Scheduler interface {
	Every(d time.Duration, task func()) (cancel func())
}

// ClockScheduler drives periodic tasks from a clock.Clock ticker, one
// goroutine per task.
type ClockScheduler struct {
	Clock clock.Clock
}

func (s ClockScheduler) Every(d time.Duration, task func()) func() {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				task()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
