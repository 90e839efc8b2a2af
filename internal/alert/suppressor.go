package alert

import (
	"sync"
	"time"

	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/store/model"
)

// suppressor implements the global-rate-limit and rollup stages of the
// suppression pipeline (spec §4.6); per-device cooldown is handled by
// the caller against AlertState.CooldownUntil before this is reached.
type suppressor struct {
	mu sync.Mutex

	globalCap    int
	globalWindow time.Duration
	globalTimes  []time.Time

	rollupWindow    time.Duration
	rollupThreshold int
	rollupCounts    map[model.AlertCondition]*rollupBucket
}

type rollupBucket struct {
	windowStart time.Time
	count       int
	delivered   bool
}

func newSuppressor(cfg *config.Config) *suppressor {
	return &suppressor{
		globalCap:       cfg.Alerts.GlobalCapPerMin,
		globalWindow:    time.Minute,
		rollupWindow:    time.Minute,
		rollupThreshold: cfg.Alerts.RollupThreshold,
		rollupCounts:    make(map[model.AlertCondition]*rollupBucket),
	}
}

// admit applies the global sliding-window cap, then the per-condition
// rollup window: below threshold, alerts deliver individually; at or
// above threshold within the window, only one aggregated notification
// is delivered for the whole window. Returns whether to notify and,
// if an aggregate fired, how many events it represents.
func (s *suppressor) admit(deviceID string, cond model.AlertCondition, now time.Time) (allow bool, rolledUp int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.admitGlobalLocked(now) {
		return false, 0
	}

	bucket, ok := s.rollupCounts[cond]
	if !ok || now.Sub(bucket.windowStart) > s.rollupWindow {
		bucket = &rollupBucket{windowStart: now}
		s.rollupCounts[cond] = bucket
	}
	bucket.count++

	if bucket.count < s.rollupThreshold {
		return true, 0
	}
	if bucket.delivered {
		return false, 0
	}
	bucket.delivered = true
	return true, bucket.count
}

func (s *suppressor) admitGlobalLocked(now time.Time) bool {
	cutoff := now.Add(-s.globalWindow)
	kept := s.globalTimes[:0]
	for _, t := range s.globalTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.globalTimes = kept

	if len(s.globalTimes) >= s.globalCap {
		return false
	}
	s.globalTimes = append(s.globalTimes, now)
	return true
}
