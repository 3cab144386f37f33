package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the interval in which a repeated action counts as a duplicate
const DefaultWindow = 3 * time.Second

// purgeThreshold is the map size above which stale entries are swept
const purgeThreshold = 1024

type key struct {
	actorID   string
	actionKey string
}

// Debouncer suppresses repeated deliveries of the same action by the same
// actor. State lives in process memory only.
type Debouncer struct {
	window time.Duration

	mu            sync.Mutex
	lastProcessed map[key]time.Time
}

// New creates a debouncer; a non-positive window uses DefaultWindow
func New(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window:        window,
		lastProcessed: make(map[key]time.Time),
	}
}

// ShouldProcess returns false if the same actor performed actionKey less than
// one window before now. Otherwise it records now and returns true.
func (d *Debouncer) ShouldProcess(actorID, actionKey string, now time.Time) bool {
	k := key{actorID: actorID, actionKey: actionKey}

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastProcessed[k]; ok && now.Sub(last) < d.window {
		return false
	}

	d.lastProcessed[k] = now
	if len(d.lastProcessed) > purgeThreshold {
		d.purgeLocked(now)
	}
	return true
}

// Forget clears the record so a failed attempt can be retried immediately
func (d *Debouncer) Forget(actorID, actionKey string) {
	d.mu.Lock()
	delete(d.lastProcessed, key{actorID: actorID, actionKey: actionKey})
	d.mu.Unlock()
}

// Len returns the number of tracked entries
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastProcessed)
}

func (d *Debouncer) purgeLocked(now time.Time) {
	for k, last := range d.lastProcessed {
		if now.Sub(last) >= d.window {
			delete(d.lastProcessed, k)
		}
	}
}
