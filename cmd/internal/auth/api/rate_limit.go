package api

import (
	"net"
	"sync"
	"time"
)

// routeClass groups endpoints that share a per-IP budget.
type routeClass string

const (
	classOTPSend   routeClass = "otp_send"
	classOTPVerify routeClass = "otp_verify"
	classLogin     routeClass = "login"
)

type windowLimit struct {
	Max    int
	Window time.Duration
}

// throttle is an in-process sliding-window limiter keyed by class and IP.
// Each instance only sees its own traffic.
type throttle struct {
	mu     sync.Mutex
	limits map[routeClass]windowLimit
	hits   map[string][]time.Time
	calls  int
}

func newThrottle(cfg Config) *throttle {
	return &throttle{
		limits: map[routeClass]windowLimit{
			classOTPSend:   {Max: cfg.OTPSendMax, Window: cfg.OTPSendWindow},
			classOTPVerify: {Max: cfg.OTPVerifyMax, Window: cfg.OTPVerifyWindow},
			classLogin:     {Max: cfg.LoginMax, Window: cfg.LoginWindow},
		},
		hits: make(map[string][]time.Time),
	}
}

// allow records a hit unless the window is full, in which case it reports
// how long until the oldest hit leaves the window.
func (t *throttle) allow(class routeClass, ip net.IP, now time.Time) (bool, time.Duration) {
	lim, ok := t.limits[class]
	if !ok || lim.Max <= 0 || lim.Window <= 0 || ip == nil {
		return true, 0
	}
	key := string(class) + "|" + ip.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	if t.calls%1024 == 0 {
		t.prune(now)
	}

	recent := pruneWindow(t.hits[key], now, lim.Window)
	if blocked, retry := evaluateWindowThrottle(now, recent, lim.Max, lim.Window); blocked {
		t.hits[key] = recent
		return false, retry
	}
	t.hits[key] = append(recent, now)
	return true, 0
}

// prune drops keys with no hit inside the longest window.
func (t *throttle) prune(now time.Time) {
	var longest time.Duration
	for _, l := range t.limits {
		longest = max(longest, l.Window)
	}
	for k, hs := range t.hits {
		if len(hs) == 0 || now.Sub(hs[len(hs)-1]) >= longest {
			delete(t.hits, k)
		}
	}
}

// pruneWindow keeps the hits newer than window, oldest first.
func pruneWindow(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	i := 0
	for i < len(hits) && !hits[i].After(cut) {
		i++
	}
	return hits[i:]
}

// evaluateWindowThrottle blocks when at least maxHits fall inside window and
// returns the wait until the oldest counted hit expires.
func evaluateWindowThrottle(now time.Time, hits []time.Time, maxHits int, window time.Duration) (bool, time.Duration) {
	if maxHits <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var inside []time.Time
	for _, h := range hits {
		if h.After(cut) {
			inside = append(inside, h)
		}
	}
	if len(inside) < maxHits {
		return false, 0
	}
	oldest := inside[0]
	for _, h := range inside[1:] {
		if h.Before(oldest) {
			oldest = h
		}
	}
	return true, oldest.Add(window).Sub(now)
}
