package export

import (
	"sync"
	"time"
)

// DefaultPollInterval is the progress sampling interval.
const DefaultPollInterval = time.Second

// ProgressThreshold is the fraction at which polling stops.
const ProgressThreshold = 0.99

// ProgressFunc receives progress events tagged with the merge action key.
type ProgressFunc func(key string, fraction float64)

// Poller samples a Job's progress on its own ticker and forwards it to an observer.
type Poller struct {
	interval time.Duration
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{interval: interval}
}

// Watch starts sampling job every interval and calls fn with key and the
// current fraction. A zero fraction is not reported. Sampling stops without
// reporting once the fraction reaches ProgressThreshold, the job is terminal, or the returned
// stop function is called. stop is idempotent and returns only after the
// sampling goroutine has exited, so fn is never called after stop returns.
// With a nil fn Watch does nothing.
func (p *Poller) Watch(job *Job, key string, fn ProgressFunc) (stop func()) {
	if fn == nil {
		return func() {}
	}

	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return
			case <-job.Done():
				return
			case <-ticker.C:
				if job.IsTerminal() {
					return
				}
				progress := job.Progress()
				if progress >= ProgressThreshold {
					return
				}
				if progress > 0 {
					fn(key, progress)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-exited
	}
}
