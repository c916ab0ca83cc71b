package llm

import (
	"sync"
	"time"
)

// latencyAlpha is the smoothing factor for the latency moving average.
const latencyAlpha = 0.1

// Statistics is a point-in-time copy of the client's counters.
type Statistics struct {
	// Requests counts completed requests, success or failure.
	Requests int64

	// Errors counts failed requests.
	Errors int64

	// CacheHits counts responses served from the response cache.
	CacheHits int64

	// TotalTokens sums the usage.total_tokens of successful responses.
	TotalTokens int64

	// AvgLatency is an exponentially smoothed request latency.
	AvgLatency time.Duration

	// DroppedFrames counts malformed streaming frames that were
	// skipped. Skipping is deliberate; the counter keeps it observable.
	DroppedFrames int64
}

// statsTracker accumulates client statistics under a mutex.
type statsTracker struct {
	mu            sync.Mutex
	requests      int64
	errors        int64
	cacheHits     int64
	totalTokens   int64
	avgLatency    float64 // milliseconds
	droppedFrames int64
}

// record registers a completed request. The first observation seeds
// the average; later ones are smoothed with latencyAlpha.
func (s *statsTracker) record(latency time.Duration, tokens int, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if failed {
		s.errors++
	}
	s.totalTokens += int64(tokens)

	ms := float64(latency.Milliseconds())
	if s.requests == 1 {
		s.avgLatency = ms
	} else {
		s.avgLatency = latencyAlpha*ms + (1-latencyAlpha)*s.avgLatency
	}
}

func (s *statsTracker) recordCacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

func (s *statsTracker) recordDroppedFrame() {
	s.mu.Lock()
	s.droppedFrames++
	s.mu.Unlock()
}

// snapshot returns a copy of the current counters.
func (s *statsTracker) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Statistics{
		Requests:      s.requests,
		Errors:        s.errors,
		CacheHits:     s.cacheHits,
		TotalTokens:   s.totalTokens,
		AvgLatency:    time.Duration(s.avgLatency * float64(time.Millisecond)),
		DroppedFrames: s.droppedFrames,
	}
}

// reset zeroes all counters.
func (s *statsTracker) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = 0
	s.errors = 0
	s.cacheHits = 0
	s.totalTokens = 0
	s.avgLatency = 0
	s.droppedFrames = 0
}
