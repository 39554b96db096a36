// Package lim rate-limits clients per endpoint, sharing counters through
// Redis when it is configured and falling back to in-process token
// buckets otherwise.
package lim

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bitbin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	adaptiveFor     = 60 * time.Second
	window          = time.Minute
	redisBudget     = 100 * time.Millisecond
)

// Counter is a shared fixed-window counter; *db.Redis implements it.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Limiter struct {
	counter           Counter
	trustedProxies    []*net.IPNet
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	localLimiters     map[string]*limiterEntry
	mu                sync.Mutex
	rpm               int
	burst             int
	conservativeLimit int
	quit              chan struct{}
	stopOnce          sync.Once
	evictionSem       chan struct{}
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New builds a limiter allowing rpm requests per minute per client and
// endpoint. counter may be nil.
func New(rpm, burst, conservativeLimit int, counter Counter, trustedProxies []string) (*Limiter, error) {
	nets, err := parseProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	if rpm <= 0 {
		return nil, errors.New("rate limit must be positive")
	}
	if burst <= 0 {
		burst = 1
	}
	if conservativeLimit <= 0 {
		conservativeLimit = 1
	}
	l := &Limiter{
		counter:           counter,
		trustedProxies:    nets,
		localLimiters:     make(map[string]*limiterEntry),
		rpm:               rpm,
		burst:             burst,
		conservativeLimit: conservativeLimit,
		quit:              make(chan struct{}),
		evictionSem:       make(chan struct{}, 1),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.cleanupLoop()
	return l, nil
}
func parseProxies(proxies []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, proxy := range proxies {
		if !strings.Contains(proxy, "/") {
			ip := net.ParseIP(proxy)
			if ip == nil {
				return nil, errors.Errorf("invalid IP in trusted proxies: %s", proxy)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, subnet, err := net.ParseCIDR(proxy)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid CIDR in trusted proxies: %s", proxy)
		}
		nets = append(nets, subnet)
	}
	return nets, nil
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpiredLimiters()
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) evictExpiredLimiters() {
	now := time.Now()
	l.mu.Lock()
	evicted := 0
	for key, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.localLimiters, key)
			evicted++
		}
	}
	remaining := len(l.localLimiters)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
	})
}
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(adaptiveFor).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	return time.Now().Unix() < atomic.LoadInt64(&l.adaptiveModeUntil)
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

func halve(n int) int {
	if n/2 < 1 {
		return 1
	}
	return n / 2
}

// Check counts one request from r's client against endpoint.
func (l *Limiter) Check(r *http.Request, endpoint string) Result {
	ip := l.ClientIP(r)
	key := endpoint + ":" + ip
	limit := l.rpm
	if l.isAdaptiveMode() {
		limit = halve(limit)
	}
	if l.counter == nil {
		return l.local(key, limit, l.burst)
	}
	ctx, cancel := context.WithTimeout(r.Context(), redisBudget)
	defer cancel()
	usage, err := l.counter.RateLimit(ctx, "ratelimit:"+key, limit, window)
	if err != nil {
		util.Warn().Err(err).Msg("shared rate limit unavailable, using conservative local limit")
		return l.local("fallback:"+key, halveIf(l.conservativeLimit, l.isAdaptiveMode()), l.conservativeLimit)
	}
	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   usage <= limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Now().Add(window),
	}
}

func halveIf(n int, cond bool) int {
	if cond {
		return halve(n)
	}
	return n
}

func (l *Limiter) local(key string, perMinute, burst int) Result {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.localLimiters) >= (maxLimiters*9)/10 {
		if toEvict := len(l.localLimiters) / 10; toEvict > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.asyncEvictOldest(toEvict)
				}()
			default:
			}
		}
	}
	entry, exists := l.localLimiters[key]
	if !exists {
		if len(l.localLimiters) >= maxLimiters {
			util.Warn().Int("limiters", len(l.localLimiters)).Msg("rate limiter at capacity, rejecting request")
			return Result{Allowed: false, Limit: perMinute, Reset: now.Add(window)}
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)}
		l.localLimiters[key] = entry
	}
	entry.lastAccess = now
	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Limit: perMinute, Remaining: remaining, Reset: now.Add(window)}
}
func (l *Limiter) asyncEvictOldest(count int) {
	type kv struct {
		key        string
		lastAccess time.Time
	}
	l.mu.Lock()
	entries := make([]kv, 0, len(l.localLimiters))
	for k, v := range l.localLimiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, exists := l.localLimiters[entries[i].key]; exists {
			delete(l.localLimiters, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Msg("async limiter eviction completed")
	}
}

// ClientIP returns the first untrusted hop, walking X-Forwarded-For from
// the right only when the direct peer is a trusted proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(l.trustedProxies) == 0 || !l.trusted(remoteIP) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	const maxIPsToParse = 100
	hops := strings.Split(xff, ",")
	parsed := 0
	for i := len(hops) - 1; i >= 0 && parsed < maxIPsToParse; i-- {
		ipStr := strings.TrimSpace(hops[i])
		if ipStr == "" {
			continue
		}
		parsed++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !l.trusted(ipStr) {
			return ipStr
		}
	}
	return remoteIP
}
func (l *Limiter) trusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range l.trustedProxies {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
