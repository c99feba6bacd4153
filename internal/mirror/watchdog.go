package mirror

import (
	"container/heap"
	"io"
	"log/slog"
	"sync"
	"time"
)

// pollInterval bounds how long the watchdog sleeps between two checks, so that
// a connection released early does not keep it waiting for a stale deadline.
const pollInterval = time.Second

// Watchdog closes connections whose request outlived the socket timeout. The
// HTTP transport only bounds connection establishment; once a response is
// streaming nothing else interrupts a peer that stopped sending.
type Watchdog struct {
	timeout time.Duration
	now     func() time.Time
	poll    time.Duration

	mu      sync.Mutex
	entries deadlines
}

type watch struct {
	deadline time.Time
	conn     io.Closer
	url      string
	index    int
}

// deadlines is a min-heap on deadline.
type deadlines []*watch

func (d deadlines) Len() int           { return len(d) }
func (d deadlines) Less(i, j int) bool { return d[i].deadline.Before(d[j].deadline) }

func (d deadlines) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].index = i
	d[j].index = j
}

func (d *deadlines) Push(x any) {
	w := x.(*watch)
	w.index = len(*d)
	*d = append(*d, w)
}

func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*d = old[:n-1]
	return w
}

// NewWatchdog returns a watchdog enforcing timeout on every watched connection.
func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		now:     time.Now,
		poll:    pollInterval,
	}
}

// Timeout returns the per-request budget.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Watch registers conn, in use for url, until the returned release function
// is called. Release is idempotent.
func (w *Watchdog) Watch(conn io.Closer, url string) (release func()) {
	entry := &watch{deadline: w.now().Add(w.timeout), conn: conn, url: url}

	w.mu.Lock()
	heap.Push(&w.entries, entry)
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if entry.index >= 0 {
				heap.Remove(&w.entries, entry.index)
			}
		})
	}
}

// Len returns the number of watched connections.
func (w *Watchdog) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries.Len()
}

// Run supervises the watched connections until done is closed, then forgets
// whatever is still registered.
func (w *Watchdog) Run(done <-chan struct{}) {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	for {
		wait := w.expire()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-done:
			w.drain()
			return
		case <-timer.C:
		}
	}
}

// expire closes every connection past its deadline, and every connection
// whose deadline is too far in the future to have been set by this watchdog.
// It returns how long to sleep before the next check.
func (w *Watchdog) expire() time.Duration {
	var expired []*watch

	w.mu.Lock()
	now := w.now()
	horizon := now.Add(w.timeout + time.Second)
	wait := w.poll
	for w.entries.Len() > 0 {
		first := w.entries[0]
		if first.deadline.After(horizon) || !first.deadline.After(now) {
			expired = append(expired, heap.Pop(&w.entries).(*watch))
			continue
		}
		wait = min(wait, first.deadline.Sub(now))
		break
	}
	w.mu.Unlock()

	for _, e := range expired {
		slog.Warn("closing connection after socket timeout", "url", e.url, "timeout", w.timeout)
		if err := e.conn.Close(); err != nil {
			slog.Debug("closing timed out connection failed", "url", e.url, "err", err)
		}
	}
	return wait
}

func (w *Watchdog) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.entries.Len(); n > 0 {
		slog.Debug("watchdog stopping with connections still registered", "count", n)
	}
	for _, e := range w.entries {
		e.index = -1
	}
	w.entries = nil
}
