package ratelimiting

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// Idle buckets are full again long before this
const bucketTTL = 30 * time.Minute

type RateLimiter interface {
	Consume(key string) bool
}

// tokenBucketRateLimiter keeps one token bucket per key
type tokenBucketRateLimiter struct {
	buckets         *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond float64
	burstSize       int
}

func (rateLimiter *tokenBucketRateLimiter) Consume(key string) bool {
	bucket, _ := rateLimiter.buckets.GetOrSet(key, rate.NewLimiter(rate.Limit(rateLimiter.refillPerSecond), rateLimiter.burstSize))
	return bucket.Value().Allow()
}

type RefillPerSecond float64
type BurstSize int

// NewTokenBucketRateLimiter returns a limiter and a function that stops its background cleanup
func NewTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) (RateLimiter, func()) {
	buckets := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](bucketTTL),
	)
	go buckets.Start()

	return &tokenBucketRateLimiter{
		buckets:         buckets,
		refillPerSecond: float64(refillPerSecond),
		burstSize:       int(burstSize),
	}, buckets.Stop
}

type RequestRateLimiter interface {
	Consume(r *http.Request) bool
	KeyFor(r *http.Request) string
}

type requestBasedRateLimiter struct {
	limiter RateLimiter
	keyFunc func(r *http.Request) string
}

func (rateLimiter *requestBasedRateLimiter) Consume(r *http.Request) bool {
	return rateLimiter.limiter.Consume(rateLimiter.keyFunc(r))
}

func (rateLimiter *requestBasedRateLimiter) KeyFor(r *http.Request) string {
	return rateLimiter.keyFunc(r)
}

func NewRequestBasedRateLimiter(limiter RateLimiter, keyFunc func(r *http.Request) string) RequestRateLimiter {
	return &requestBasedRateLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

func IPKeyFunc(r *http.Request) string {
	host := r.RemoteAddr
	if index := strings.LastIndexByte(host, ':'); index != -1 && !strings.HasSuffix(host, "]") {
		host = host[:index]
	}
	return fmt.Sprintf("ip: %s", strings.Trim(host, "[]"))
}

// UserIDKeyFunc keys on the X-User-Id header, which the client controls
func UserIDKeyFunc(r *http.Request) string {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = "<missing>"
	}
	return fmt.Sprintf("user-id: %.50s", userID)
}
