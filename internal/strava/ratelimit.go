package strava

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"hotpot/internal/metrics"
)

// RateLimiter tracks Strava API rate limits from response headers so
// the webhook worker can back off before hitting them.
type RateLimiter struct {
	mu          sync.RWMutex
	limit15Min  int
	usage15Min  int
	limitDaily  int
	usageDaily  int
	lastUpdated time.Time
}

// RateLimitStatus is a snapshot of the current rate limit state.
type RateLimitStatus struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	Usage15MinPct float64
	UsageDailyPct float64
	LastUpdated   time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		// Default Strava limits
		limit15Min: 200,
		limitDaily: 2000,
	}
}

// UpdateFromHeaders reads Strava's X-RateLimit-* headers and updates
// the tracked state and the exported gauges. Responses without the
// headers leave the state unchanged.
func (rl *RateLimiter) UpdateFromHeaders(headers http.Header) {
	limits := splitPair(headers.Get("X-RateLimit-Limit"))
	usage := splitPair(headers.Get("X-RateLimit-Usage"))
	if limits == nil || usage == nil {
		return
	}

	rl.mu.Lock()
	rl.limit15Min = limits[0]
	rl.limitDaily = limits[1]
	rl.usage15Min = usage[0]
	rl.usageDaily = usage[1]
	rl.lastUpdated = time.Now()
	rl.mu.Unlock()

	metrics.StravaRateLimitUsage.WithLabelValues(metrics.RateLimit15Min, metrics.BucketLimit).Set(float64(limits[0]))
	metrics.StravaRateLimitUsage.WithLabelValues(metrics.RateLimitDaily, metrics.BucketLimit).Set(float64(limits[1]))
	metrics.StravaRateLimitUsage.WithLabelValues(metrics.RateLimit15Min, metrics.BucketUsage).Set(float64(usage[0]))
	metrics.StravaRateLimitUsage.WithLabelValues(metrics.RateLimitDaily, metrics.BucketUsage).Set(float64(usage[1]))
}

func splitPair(value string) []int {
	if value == "" {
		return nil
	}
	var a, b int
	if _, err := fmt.Sscanf(value, "%d,%d", &a, &b); err != nil {
		return nil
	}
	return []int{a, b}
}

// Status returns the current rate limit status
func (rl *RateLimiter) Status() RateLimitStatus {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	usage15MinPct := 0.0
	if rl.limit15Min > 0 {
		usage15MinPct = float64(rl.usage15Min) / float64(rl.limit15Min) * 100
	}
	usageDailyPct := 0.0
	if rl.limitDaily > 0 {
		usageDailyPct = float64(rl.usageDaily) / float64(rl.limitDaily) * 100
	}

	return RateLimitStatus{
		Limit15Min:    rl.limit15Min,
		Usage15Min:    rl.usage15Min,
		LimitDaily:    rl.limitDaily,
		UsageDaily:    rl.usageDaily,
		Usage15MinPct: usage15MinPct,
		UsageDailyPct: usageDailyPct,
		LastUpdated:   rl.lastUpdated,
	}
}

// IsNearLimit returns true if usage in either window is at or above
// the given percentage threshold.
func (rl *RateLimiter) IsNearLimit(threshold float64) bool {
	status := rl.Status()
	return status.Usage15MinPct >= threshold || status.UsageDailyPct >= threshold
}
