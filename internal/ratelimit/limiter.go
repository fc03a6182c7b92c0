// Package ratelimit shapes link bandwidth in bytes per second.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// burstDivisor sets the bucket size to one millisecond worth of bytes.
const burstDivisor = 1000

// Shaper delays callers so that the bytes passing through it do not exceed a
// configured bandwidth. A bandwidth of 0 disables shaping.
type Shaper struct {
	limiter *rate.Limiter
}

// NewShaper returns a shaper for bytesPerSecond.
func NewShaper(bytesPerSecond int64) *Shaper {
	return &Shaper{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstFor(bytesPerSecond)),
	}
}

func burstFor(bytesPerSecond int64) int {
	if b := bytesPerSecond / burstDivisor; b > 1 {
		return int(b)
	}
	return 1
}

// WaitBytes blocks until n bytes may pass. Large transfers are split into
// bucket-sized chunks.
func (s *Shaper) WaitBytes(ctx context.Context, n int) error {
	if s.limiter.Limit() == 0 {
		return ctx.Err()
	}
	burst := s.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := s.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
