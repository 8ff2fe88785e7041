package middleware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/brickflow"
)

// BrickTiming aggregates run durations of one brick id.
type BrickTiming struct {
	Count int64
	Total time.Duration
	Last  time.Duration
	Max   time.Duration
}

// Average returns the mean run duration.
func (t BrickTiming) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// TimingStats collects per-brick durations. It is safe for concurrent use.
type TimingStats struct {
	mu      sync.Mutex
	byBrick map[string]BrickTiming
}

// NewTimingStats creates empty stats.
func NewTimingStats() *TimingStats {
	return &TimingStats{byBrick: make(map[string]BrickTiming)}
}

func (s *TimingStats) add(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.byBrick[id]
	t.Count++
	t.Total += d
	t.Last = d
	if d > t.Max {
		t.Max = d
	}
	s.byBrick[id] = t
}

// Get returns the timing of a brick id.
func (s *TimingStats) Get(id string) (BrickTiming, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byBrick[id]
	return t, ok
}

// IDs returns the ids with recorded runs, sorted.
func (s *TimingStats) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byBrick))
	for id := range s.byBrick {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Timing records the duration of every run into stats, failed runs
// included.
func Timing(stats *TimingStats) Middleware {
	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			start := time.Now()
			result, err := b.Run(ctx, args, opts)
			stats.add(b.ID(), time.Since(start))
			return result, err
		})
	}
}
