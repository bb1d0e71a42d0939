package engine

import (
	"math"
	"sync"
)

// arrivalAlpha weights the latest interval in the moving average.
const arrivalAlpha = 0.3

type arrival struct {
	last     int64
	interval float64
	samples  int
}

// arrivals tracks, per signal, an exponential moving average of the ticks
// between spikes.
type arrivals struct {
	mu      sync.Mutex
	signals map[string]*arrival
}

func newArrivals() *arrivals {
	return &arrivals{signals: make(map[string]*arrival)}
}

func (a *arrivals) observe(name string, tick int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.signals[name]
	if !ok {
		a.signals[name] = &arrival{last: tick}
		return
	}
	d := float64(tick - s.last)
	if d <= 0 {
		return
	}
	if s.samples == 0 {
		s.interval = d
	} else {
		s.interval = arrivalAlpha*d + (1-arrivalAlpha)*s.interval
	}
	s.samples++
	s.last = tick
}

// eta returns the ticks until the next expected spike of name. ok is false
// when fewer than two spikes were seen. An overdue signal is expected
// within one interval again.
func (a *arrivals) eta(name string, now int64) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.signals[name]
	if !ok || s.samples == 0 {
		return 0, false
	}
	left := s.interval - float64(now-s.last)
	if left < 1 {
		left = math.Max(1, s.interval)
	}
	return left, true
}
