package ratelimit

import (
	"context"
	"math"
	"sync"

	"github.com/kapetan-io/tackle/clock"
)

// Scope kinds, checked left to right on admission.
const (
	KindGlobal = "global"
	KindTenant = "tenant"
	KindUser   = "user"
)

// Scope identifies one token bucket in the admission chain.
type Scope struct {
	Kind string
	Key  string
}

func Global() Scope          { return Scope{Kind: KindGlobal, Key: "global"} }
func Tenant(id string) Scope { return Scope{Kind: KindTenant, Key: id} }
func User(id string) Scope   { return Scope{Kind: KindUser, Key: id} }

// Rate configures one bucket kind: steady refill plus a burst ceiling.
type Rate struct {
	PerSec float64
	Burst  float64
}

// Limiter admits a request only when every scope in the chain has a token.
// Tokens are consumed left to right with no refund on a later rejection.
type Limiter interface {
	Allow(ctx context.Context, scopes ...Scope) bool
}

// MemoryLimiter holds one token bucket per scope key, created lazily with
// the default rate for its kind. Buckets for distinct keys never contend.
type MemoryLimiter struct {
	rates   map[string]Rate
	buckets sync.Map // "kind/key" -> *bucket
	logger  func(string, ...any)
}

func NewMemory(rates map[string]Rate, logger func(string, ...any)) *MemoryLimiter {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &MemoryLimiter{rates: rates, logger: logger}
}

// DefaultRates mirrors production admission policy: 100/s globally,
// 50/min per tenant, 10/min per user.
func DefaultRates(globalPerSec, tenantPerMin, userPerMin float64) map[string]Rate {
	return map[string]Rate{
		KindGlobal: {PerSec: globalPerSec, Burst: math.Max(1, globalPerSec)},
		KindTenant: {PerSec: tenantPerMin / 60.0, Burst: math.Max(1, tenantPerMin)},
		KindUser:   {PerSec: userPerMin / 60.0, Burst: math.Max(1, userPerMin)},
	}
}

type bucket struct {
	mu     sync.Mutex
	rate   Rate
	tokens float64
	last   clock.Time
}

func (b *bucket) take(now clock.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.rate.Burst, b.tokens+elapsed*b.rate.PerSec)
		b.last = now
	}
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

func (l *MemoryLimiter) Allow(_ context.Context, scopes ...Scope) bool {
	now := clock.Now()
	for _, s := range scopes {
		if !l.bucketFor(s).take(now) {
			l.logger("rate_limited", "kind", s.Kind, "key", s.Key)
			return false
		}
	}
	return true
}

func (l *MemoryLimiter) bucketFor(s Scope) *bucket {
	key := s.Kind + "/" + s.Key
	if v, ok := l.buckets.Load(key); ok {
		return v.(*bucket)
	}
	rate, ok := l.rates[s.Kind]
	if !ok {
		rate = Rate{PerSec: 1, Burst: 1}
	}
	// Fresh buckets start full so a quiet key admits its burst immediately.
	v, _ := l.buckets.LoadOrStore(key, &bucket{rate: rate, tokens: rate.Burst, last: clock.Now()})
	return v.(*bucket)
}
