package status

import (
	"sync"
	"time"

	"eventcal/internal/metrics"
)

// DefaultInterval is the status refresh rate.
const DefaultInterval = time.Second

// TickSource starts a periodic tick and returns its channel and a stop
// function. The default wraps time.NewTicker.
type TickSource func(d time.Duration) (<-chan time.Time, func())

func stdTickSource(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Ticker fans a periodic tick out to subscribers. The underlying timer only
// runs while at least one subscription is open.
type Ticker struct {
	interval time.Duration
	source   TickSource

	mu     sync.Mutex
	subs   map[int]chan time.Time
	nextID int
	stop   chan struct{}
}

// NewTicker returns a Ticker firing every interval. A nil source uses the
// wall clock.
func NewTicker(interval time.Duration, source TickSource) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if source == nil {
		source = stdTickSource
	}
	return &Ticker{
		interval: interval,
		source:   source,
		subs:     make(map[int]chan time.Time),
	}
}

// Subscribe registers a subscriber. The returned cancel function is
// idempotent; once the last subscriber cancels, the timer is stopped.
// Ticks are dropped for subscribers that are not keeping up.
func (t *Ticker) Subscribe() (<-chan time.Time, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan time.Time, 1)
	t.subs[id] = ch
	metrics.StatusSubscribers.Inc()

	if t.stop == nil {
		t.start()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { t.unsubscribe(id) })
	}
	return ch, cancel
}

// Running reports whether the underlying timer is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// start must be called with t.mu held.
func (t *Ticker) start() {
	c, stopSource := t.source(t.interval)
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		defer stopSource()
		for {
			select {
			case <-stop:
				return
			case now, ok := <-c:
				if !ok {
					return
				}
				t.broadcast(now)
			}
		}
	}()
}

func (t *Ticker) broadcast(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- now:
		default:
		}
	}
}

func (t *Ticker) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.subs[id]
	if !ok {
		return
	}
	delete(t.subs, id)
	close(ch)
	metrics.StatusSubscribers.Dec()

	if len(t.subs) == 0 && t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
