package service

import (
	"sync"
	"time"
)

type failedLogin struct {
	ip string
	at time.Time
}

// LockoutGuard counts failed logins per account in memory. An account is
// locked once threshold failures fall inside the sliding window.
type LockoutGuard struct {
	mu        sync.Mutex
	failures  map[string][]failedLogin
	threshold int
	window    time.Duration
	now       func() time.Time
}

func NewLockoutGuard(threshold int, window time.Duration) *LockoutGuard {
	return &LockoutGuard{
		failures:  make(map[string][]failedLogin),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

func (g *LockoutGuard) recentLocked(userID string, now time.Time) []failedLogin {
	cutoff := now.Add(-g.window)
	list := g.failures[userID]
	i := 0
	for i < len(list) && !list[i].at.After(cutoff) {
		i++
	}
	if i == len(list) {
		delete(g.failures, userID)
		return nil
	}
	list = list[i:]
	g.failures[userID] = list
	return list
}

func (g *LockoutGuard) Locked(userID string) bool {
	if g.threshold <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.recentLocked(userID, g.now())) >= g.threshold
}

func (g *LockoutGuard) RecordFailure(userID, ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.failures[userID] = append(g.recentLocked(userID, now), failedLogin{ip: ip, at: now})
}

func (g *LockoutGuard) Reset(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, userID)
}

// Prune drops expired entries and returns how many accounts remain tracked.
func (g *LockoutGuard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for id := range g.failures {
		g.recentLocked(id, now)
	}
	return len(g.failures)
}
