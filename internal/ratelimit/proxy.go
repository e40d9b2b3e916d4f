package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ProxyLimiter caps the send rate through each proxy reference. Accounts
// without a proxy share the empty key.
type ProxyLimiter struct {
	mu       sync.Mutex
	perSec   float64
	burst    int
	limiters map[string]*rate.Limiter
}

func NewProxyLimiter(perSec float64, burst int) *ProxyLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ProxyLimiter{perSec: perSec, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (p *ProxyLimiter) limiter(proxy string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[proxy]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.perSec), p.burst)
		p.limiters[proxy] = lim
	}
	return lim
}

// Wait blocks until the proxy has capacity. A non-positive rate disables limiting.
func (p *ProxyLimiter) Wait(ctx context.Context, proxy string) error {
	if p == nil || p.perSec <= 0 {
		return nil
	}
	return p.limiter(proxy).Wait(ctx)
}
