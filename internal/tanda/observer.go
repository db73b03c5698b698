package tanda

import (
	"sync"
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Observer derives the running clock of a tanda for one viewer. It ticks only
// while the clock runs and never writes anything back.
type Observer struct {
	interval time.Duration
	now      func() time.Time
	onTick   func(elapsed time.Duration)

	mu     sync.Mutex
	tanda  *models.Tanda
	stop   chan struct{}
	closed bool
}

// NewObserver creates an observer calling onTick every interval while running
func NewObserver(interval time.Duration, onTick func(elapsed time.Duration)) *Observer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Observer{
		interval: interval,
		now:      time.Now,
		onTick:   onTick,
	}
}

// Update feeds a fresh snapshot and starts or stops the ticker accordingly
func (o *Observer) Update(t *models.Tanda) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.tanda = t.Clone()

	running := t != nil && t.Status.IsClockRunning()
	switch {
	case running && o.stop == nil:
		o.stop = make(chan struct{})
		go o.run(o.stop)
	case !running && o.stop != nil:
		close(o.stop)
		o.stop = nil
	}
}

// Elapsed returns the clock for the last snapshot
func (o *Observer) Elapsed() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Elapsed(o.tanda, o.now())
}

// Running reports whether the ticker is active
func (o *Observer) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stop != nil
}

// Close stops the ticker for good
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	if o.stop != nil {
		close(o.stop)
		o.stop = nil
	}
}

func (o *Observer) run(stop chan struct{}) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed := o.Elapsed()
			if o.onTick != nil {
				o.onTick(elapsed)
			}
		}
	}
}
