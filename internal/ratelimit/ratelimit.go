// Package ratelimit provides the per-client request counters that gate token
// validation. Two implementations exist: an in-process token bucket for
// single-instance deployments, and a Redis-backed sliding window so multiple
// instances share one counter store. Backend failures are reported to the
// caller, which treats them as a denial.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	// Allow reports whether the request is within the configured rate. A
	// non-nil error means the limiter backend could not be consulted.
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds rate limiter settings
type Config struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up idle entries
	CleanupInterval time.Duration
}

// DefaultConfig returns the defaults applied when configuration omits limits
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// bucketEntry tracks the token bucket for a single client
type bucketEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// Memory is an in-process token-bucket Limiter
type Memory struct {
	config  Config
	entries map[string]*bucketEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemory creates an in-process limiter and starts its cleanup goroutine
func NewMemory(config Config) *Memory {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = DefaultConfig().BurstSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	m := &Memory{
		config:  config,
		entries: make(map[string]*bucketEntry),
		stopCh:  make(chan struct{}),
	}

	go m.cleanup()

	return m
}

// Allow implements Limiter. It never returns an error; the in-process
// bucket has no backend to fail.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, exists := m.entries[key]

	if !exists {
		// New client, give them full burst
		m.entries[key] = &bucketEntry{
			tokens:     float64(m.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, nil
	}

	// Refill based on time elapsed, capped at burst size
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(m.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(m.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, nil
	}

	return false, nil
}

// cleanup periodically removes idle entries
func (m *Memory) cleanup() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, entry := range m.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (m *Memory) Stop() {
	close(m.stopCh)
}
