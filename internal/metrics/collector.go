// Package metrics provides a mutex-guarded counter collector for the
// pipeline. All Inc methods are nil-receiver-safe so callers never need
// a nil check.
package metrics

import "sync"

type Collector struct {
	mu sync.Mutex

	chunksReceived   int64
	sessionsExpired  int64
	mergesCompleted  int64
	mergesFailed     int64
	refreshes        int64
	refreshFailures  int64
	submissions      int64
	submitRejections int64
	statusPolls      int64
	pollTimeouts     int64
	cleanupDeleted   int64
	cleanupFailures  int64
}

func NewCollector() *Collector {
	return &Collector{}
}

// Snapshot is an immutable view of the counters.
type Snapshot struct {
	ChunksReceived   int64 `json:"chunks_received"`
	SessionsExpired  int64 `json:"sessions_expired"`
	MergesCompleted  int64 `json:"merges_completed"`
	MergesFailed     int64 `json:"merges_failed"`
	Refreshes        int64 `json:"token_refreshes"`
	RefreshFailures  int64 `json:"token_refresh_failures"`
	Submissions      int64 `json:"submissions"`
	SubmitRejections int64 `json:"submit_rejections"`
	StatusPolls      int64 `json:"status_polls"`
	PollTimeouts     int64 `json:"poll_timeouts"`
	CleanupDeleted   int64 `json:"cleanup_deleted"`
	CleanupFailures  int64 `json:"cleanup_failures"`
}

func (c *Collector) inc(field *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

func (c *Collector) IncChunksReceived() {
	if c == nil {
		return
	}
	c.inc(&c.chunksReceived, 1)
}

func (c *Collector) IncSessionsExpired() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsExpired, 1)
}

func (c *Collector) IncMergesCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.mergesCompleted, 1)
}

func (c *Collector) IncMergesFailed() {
	if c == nil {
		return
	}
	c.inc(&c.mergesFailed, 1)
}

func (c *Collector) IncRefreshes() {
	if c == nil {
		return
	}
	c.inc(&c.refreshes, 1)
}

func (c *Collector) IncRefreshFailures() {
	if c == nil {
		return
	}
	c.inc(&c.refreshFailures, 1)
}

func (c *Collector) IncSubmissions() {
	if c == nil {
		return
	}
	c.inc(&c.submissions, 1)
}

func (c *Collector) IncSubmitRejections() {
	if c == nil {
		return
	}
	c.inc(&c.submitRejections, 1)
}

func (c *Collector) IncStatusPolls() {
	if c == nil {
		return
	}
	c.inc(&c.statusPolls, 1)
}

func (c *Collector) IncPollTimeouts() {
	if c == nil {
		return
	}
	c.inc(&c.pollTimeouts, 1)
}

func (c *Collector) AddCleanupDeleted(n int64) {
	if c == nil {
		return
	}
	c.inc(&c.cleanupDeleted, n)
}

func (c *Collector) AddCleanupFailures(n int64) {
	if c == nil {
		return
	}
	c.inc(&c.cleanupFailures, n)
}

// Snapshot returns a copy of the current counter values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ChunksReceived:   c.chunksReceived,
		SessionsExpired:  c.sessionsExpired,
		MergesCompleted:  c.mergesCompleted,
		MergesFailed:     c.mergesFailed,
		Refreshes:        c.refreshes,
		RefreshFailures:  c.refreshFailures,
		Submissions:      c.submissions,
		SubmitRejections: c.submitRejections,
		StatusPolls:      c.statusPolls,
		PollTimeouts:     c.pollTimeouts,
		CleanupDeleted:   c.cleanupDeleted,
		CleanupFailures:  c.cleanupFailures,
	}
}
