package signal

import (
	"golang.org/x/time/rate"
)

// inboundLimiter throttles frames read from one connection. Frames over the
// budget are dropped, not queued.
type inboundLimiter struct {
	lim *rate.Limiter
}

func newInboundLimiter(perSecond float64, burst int) *inboundLimiter {
	if perSecond <= 0 {
		return &inboundLimiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	return &inboundLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *inboundLimiter) Allow() bool {
	return l.lim.Allow()
}
