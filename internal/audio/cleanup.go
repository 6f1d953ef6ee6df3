package audio

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// Cleaner schedules deletion of temporary artifacts after a grace period
// long enough for the telephony provider to fetch them. Entries are keyed by
// artifact id so pending deletions can be cancelled or inspected.
type Cleaner struct {
	grace time.Duration
	log   *slog.Logger
	after func(time.Duration, func()) func() bool

	mu      sync.Mutex
	pending map[string]*cleanupEntry
}

type cleanupEntry struct {
	paths []string
	stop  func() bool
}

func NewCleaner(grace time.Duration, log *slog.Logger) *Cleaner {
	return &Cleaner{
		grace: grace,
		log:   log.With(slog.String("component", "audio-cleaner")),
		after: func(d time.Duration, fn func()) func() bool {
			timer := time.AfterFunc(d, fn)
			return timer.Stop
		},
		pending: make(map[string]*cleanupEntry),
	}
}

// Schedule queues the given paths for deletion after the grace period.
// Scheduling the same id again resets the timer.
func (c *Cleaner) Schedule(id string, paths ...string) {
	c.mu.Lock()
	if prev, ok := c.pending[id]; ok {
		prev.stop()
	}
	entry := &cleanupEntry{paths: paths}
	entry.stop = c.after(c.grace, func() { c.Run(id) })
	c.pending[id] = entry
	c.mu.Unlock()
}

// Cancel stops a pending deletion. Returns false when the id is unknown or
// already ran.
func (c *Cleaner) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[id]
	if !ok {
		return false
	}
	entry.stop()
	delete(c.pending, id)
	return true
}

// Pending returns the ids of artifacts still awaiting deletion.
func (c *Cleaner) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run deletes the entry's files immediately. Missing files are logged and
// ignored; running an already-removed entry is a no-op.
func (c *Cleaner) Run(id string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	for _, path := range entry.paths {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				c.log.Debug("artifact already gone", slog.String("path", path))
				continue
			}
			c.log.Warn("failed to delete artifact", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		c.log.Debug("deleted artifact", slog.String("path", path))
	}
}

// Drain cancels all timers and deletes everything immediately. Called on
// shutdown so the temp root does not accumulate.
func (c *Cleaner) Drain() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id, entry := range c.pending {
		entry.stop()
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Run(id)
	}
}
