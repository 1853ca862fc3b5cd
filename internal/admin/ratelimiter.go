package admin

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles admin connection accepts per client IP, a
// per-IP token bucket applied to the admin accept path rather than the
// data-plane query path, since the control channel has no RRL
// equivalent of its own.
type RateLimiter struct {
	mu              sync.RWMutex
	limitersByIP    map[string]*rate.Limiter
	connsPerSec     rate.Limit
	burstSize       int
	cleanupInterval time.Duration
	lastCleanup     time.Time
	exemptNets      []*net.IPNet
}

// RateLimiterConfig holds configuration for the admin rate limiter.
type RateLimiterConfig struct {
	ConnsPerSecond  float64
	BurstSize       int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns sensible defaults for the control
// channel: an operator tool, not a data-plane path, so the bucket is
// small.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		ConnsPerSecond:  10,
		BurstSize:       20,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.ConnsPerSecond == 0 {
		cfg = DefaultRateLimiterConfig()
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}
	return &RateLimiter{
		limitersByIP:    make(map[string]*rate.Limiter),
		connsPerSec:     rate.Limit(cfg.ConnsPerSecond),
		burstSize:       cfg.BurstSize,
		cleanupInterval: cfg.CleanupInterval,
		lastCleanup:     time.Now(),
	}
}

// Allow checks if a connection attempt from ip should be accepted.
func (rl *RateLimiter) Allow(ip net.IP) bool {
	if rl.isExempt(ip) {
		return true
	}

	ipStr := ip.String()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.cleanupInterval {
		rl.cleanup()
	}

	limiter, ok := rl.limitersByIP[ipStr]
	if !ok {
		limiter = rate.NewLimiter(rl.connsPerSec, rl.burstSize)
		rl.limitersByIP[ipStr] = limiter
	}

	return limiter.Allow()
}

// AllowString is a convenience wrapper that parses an IP string.
func (rl *RateLimiter) AllowString(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return rl.Allow(ip)
}

// AddExempt adds a network that is exempt from rate limiting.
func (rl *RateLimiter) AddExempt(cidr string) error {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		ip := net.ParseIP(cidr)
		if ip == nil {
			return err
		}
		if ip.To4() != nil {
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}
		} else {
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
		}
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.exemptNets = append(rl.exemptNets, ipnet)
	return nil
}

func (rl *RateLimiter) isExempt(ip net.IP) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, exempt := range rl.exemptNets {
		if exempt.Contains(ip) {
			return true
		}
	}
	return false
}

// cleanup must be called with the lock held.
func (rl *RateLimiter) cleanup() {
	rl.limitersByIP = make(map[string]*rate.Limiter)
	rl.lastCleanup = time.Now()
}
