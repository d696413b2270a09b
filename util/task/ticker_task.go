package task

import (
	"time"
)

type Runner interface {
	Run() error
}

// TickerTask runs a Runner immediately and then on a fixed interval until
// stopped. A non-positive interval means the task runs once and never
// recurs.
type TickerTask struct {
	interval time.Duration
	runner   Runner
	done     chan struct{}
}

func NewTickerTask(interval time.Duration, runner Runner) *TickerTask {
	return &TickerTask{
		interval: interval,
		runner:   runner,
		done:     make(chan struct{}),
	}
}

// Start runs the task once synchronously, then schedules recurring runs if
// the interval is positive.
func (t *TickerTask) Start() {
	t.runner.Run()

	if t.interval > 0 {
		go t.runRecurring()
	}
}

// Stop halts the recurring runs. The runner keeps whatever state it has.
func (t *TickerTask) Stop() {
	close(t.done)
}

func (t *TickerTask) runRecurring() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.runner.Run()
		case <-t.done:
			return
		}
	}
}
