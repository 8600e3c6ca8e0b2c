package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// FrameLimiter throttles inbound frames on a single gateway connection.
// It is process-local: a connection lives on exactly one instance, so there
// is nothing to share through the counter store.
type FrameLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewFrameLimiter allows limit frames per window, with bursts up to limit.
func NewFrameLimiter(limit int64, window time.Duration) *FrameLimiter {
	if limit < 1 {
		limit = 1
	}
	return &FrameLimiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), int(limit)),
		now:     time.Now,
	}
}

// Allow consumes one token. When denied it returns how long the client
// should wait before the next frame is accepted.
func (f *FrameLimiter) Allow() (bool, time.Duration) {
	now := f.now()
	if f.limiter.AllowN(now, 1) {
		return true, 0
	}

	reservation := f.limiter.ReserveN(now, 1)
	wait := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, wait
}
