package security

import (
	"sync"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/logging"
)

// DedupWindow tracks recently-seen keys within a sliding time window, the
// same shape a replay-protection cache would use, but keyed on
// (repository, commit) pairs rather than bare request IDs. Callers use it
// to decide whether an
// inbound webhook is a redelivery of one already in flight or recently
// completed.
type DedupWindow struct {
	window  time.Duration
	maxSize int
	mu      sync.Mutex
	seen    map[string]seenEntry
	logger  *logging.Logger
}

type seenEntry struct {
	at    time.Time
	value string // the deployment id this key resolved to
}

// NewDedupWindow constructs a DedupWindow remembering keys for window.
func NewDedupWindow(window time.Duration, logger *logging.Logger) *DedupWindow {
	return NewDedupWindowWithMaxSize(window, 0, logger)
}

// NewDedupWindowWithMaxSize is NewDedupWindow with an optional cap on tracked
// keys (0 = unlimited).
func NewDedupWindowWithMaxSize(window time.Duration, maxSize int, logger *logging.Logger) *DedupWindow {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &DedupWindow{window: window, maxSize: maxSize, seen: make(map[string]seenEntry), logger: logger}
}

// SeenWithin returns (deploymentID, true) if key was marked within the
// window and is still live; otherwise ("", false).
func (d *DedupWindow) SeenWithin(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.seen[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.at) >= d.window {
		delete(d.seen, key)
		return "", false
	}
	return entry.value, true
}

// Mark records key -> value as seen now. Expired entries are swept whenever
// the tracked count is a multiple of 100 and when the size cap is reached.
func (d *DedupWindow) Mark(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.seen)%100 == 0 {
		d.cleanupLocked()
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.cleanupLocked()
		if len(d.seen) >= d.maxSize {
			if d.logger != nil {
				d.logger.WithFields(nil).Warn("dedup window at capacity, evicting nothing")
			}
			return
		}
	}
	d.seen[key] = seenEntry{at: time.Now(), value: value}
}

func (d *DedupWindow) cleanupLocked() {
	now := time.Now()
	for k, e := range d.seen {
		if now.Sub(e.at) >= d.window {
			delete(d.seen, k)
		}
	}
}

// Size returns the number of tracked keys (including any not yet swept).
func (d *DedupWindow) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
