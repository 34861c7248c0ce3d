// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gateway implements the protocol-sniffing HTTP/proxy front door: a
// single listener that inspects each connection's first bytes and either
// serves the REST adapter or proxies the raw ring wire protocol through to a
// peer, round-robin over whichever peers last reported Alive.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const netmapFetchTimeout = 2 * time.Second

// PeerCache tracks the gateway's view of the ring's netmap, refreshed
// periodically from whichever bootstrap or previously-seen peer answers
// first. It never writes to the ring, only reads NETMAP GET.
type PeerCache struct {
	logger    *slog.Logger
	bootstrap []string

	mu    sync.RWMutex
	alive []string // ports, ascending, Alive only

	rr uint64
}

// NewPeerCache creates a cache seeded with the ports of the bootstrap peer
// addresses (used only until the first successful refresh populates real
// netmap data).
func NewPeerCache(bootstrap []string, logger *slog.Logger) *PeerCache {
	seed := make([]string, 0, len(bootstrap))
	for _, addr := range bootstrap {
		seed = append(seed, portOf(addr))
	}
	sort.Strings(seed)
	return &PeerCache{
		logger:    logger.With("component", "peer-cache"),
		bootstrap: bootstrap,
		alive:     seed,
	}
}

// Start runs Refresh on interval until ctx is canceled.
func (c *PeerCache) Start(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh tries each candidate address (previously-seen Alive peers first,
// then the bootstrap list) until one answers NETMAP GET, and replaces the
// cached Alive set with the result.
func (c *PeerCache) Refresh(ctx context.Context) {
	for _, addr := range c.candidates() {
		netmap, err := fetchNetmap(addr, netmapFetchTimeout)
		if err != nil {
			c.logger.Debug("netmap refresh candidate failed", "addr", addr, "error", err)
			continue
		}
		c.setFromNetmap(netmap)
		return
	}
	c.logger.Warn("netmap refresh failed against every candidate", "candidates", c.candidates())
}

func (c *PeerCache) candidates() []string {
	c.mu.RLock()
	seen := append([]string(nil), c.alive...)
	c.mu.RUnlock()
	host := "127.0.0.1"
	if len(c.bootstrap) > 0 {
		if h, _, err := net.SplitHostPort(c.bootstrap[0]); err == nil && h != "" {
			host = h
		}
	}
	out := make([]string, 0, len(seen)+len(c.bootstrap))
	for _, port := range seen {
		out = append(out, net.JoinHostPort(host, port))
	}
	out = append(out, c.bootstrap...)
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (c *PeerCache) setFromNetmap(netmap map[string]bool) {
	alive := make([]string, 0, len(netmap))
	for port, isAlive := range netmap {
		if isAlive {
			alive = append(alive, port)
		}
	}
	sort.Strings(alive)

	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
}

// Snapshot returns the cached Alive ports, ascending.
func (c *PeerCache) Snapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.alive...)
}

// Next returns the next Alive port in round-robin rotation, or ok=false if
// the cache is empty.
func (c *PeerCache) Next() (port string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.alive) == 0 {
		return "", false
	}
	idx := atomic.AddUint64(&c.rr, 1) % uint64(len(c.alive))
	return c.alive[idx], true
}

// MarkDead drops port from the cached Alive set immediately, without waiting
// for the next refresh, so subsequent routing avoids it.
func (c *PeerCache) MarkDead(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.alive {
		if p == port {
			c.alive = append(c.alive[:i], c.alive[i+1:]...)
			return
		}
	}
}
