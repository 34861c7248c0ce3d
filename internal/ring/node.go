// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ring implements one OuroborosFS peer: the wire dispatcher, chunk
// store, node state, push/pull and replication engines, and the
// gossip/heal and ring-wide-walk background machinery.
package ring

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/config"
	"github.com/hazardous-sun/ouroboros-fs/internal/hoststats"
	"golang.org/x/time/rate"
)

// PortOf returns the port component of a host:port address, the canonical
// peer identity used throughout the netmap and topology map.
func PortOf(addr string) string {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr
	}
	return addr[idx+1:]
}

// Node is one running ring peer: accept loop, command dispatch, and the
// background gossip and heal-schedule tasks.
type Node struct {
	cfg       *config.NodeConfig
	logger    *slog.Logger
	state     *State
	store     *ChunkStore
	monitor   *hoststats.Monitor
	healSched *HealScheduler

	// relayLimiter is shared by every chunk this node relays onward, so the
	// configured rate is one total budget across concurrent relays rather
	// than an allowance handed out fresh per hop. Nil when throttling is
	// disabled.
	relayLimiter *rate.Limiter

	wg sync.WaitGroup
}

// NewNode builds a Node from its configuration, creating the on-disk chunk
// store under <data_dir>/<port>/ if needed.
func NewNode(cfg *config.NodeConfig, logger *slog.Logger) (*Node, error) {
	ownPort := PortOf(cfg.Addr)
	baseDir := filepath.Join(cfg.DataDir, ownPort)
	store, err := NewChunkStore(baseDir)
	if err != nil {
		return nil, fmt.Errorf("initializing chunk store: %w", err)
	}

	state := NewState(ownPort)
	if cfg.Next != "" {
		state.SetSuccessor(cfg.Next)
	}

	n := &Node{
		cfg:          cfg,
		logger:       logger.With("port", ownPort),
		state:        state,
		store:        store,
		monitor:      hoststats.NewMonitor(logger),
		relayLimiter: newRelayLimiter(cfg.RelayRateLimitBytesPerSec),
	}

	healSched, err := NewHealScheduler(cfg.HealSchedule, n.logger, n.HealRing)
	if err != nil {
		return nil, err
	}
	n.healSched = healSched

	return n, nil
}

// peerAddr builds a dialable address for port, combining this node's own
// listen host with the target port. The ring's self-spawn CLI only ever
// spins up peers on one host, so a bare port is always resolvable this way;
// a config with an explicit Next carrying its own host still works for the
// successor slot specifically, since that address is stored verbatim.
func (n *Node) peerAddr(port string) string {
	host, _, err := net.SplitHostPort(n.cfg.Addr)
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Run binds the listen address and serves connections, the gossip loop, and
// (if configured) the heal scheduler until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", n.cfg.Addr, err)
	}
	n.logger.Info("node listening", "addr", n.cfg.Addr, "next", n.cfg.Next)

	n.monitor.Start()
	defer n.monitor.Stop()
	if n.healSched != nil {
		n.healSched.Start()
		defer n.healSched.Stop(context.Background())
	}

	go n.gossipLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				n.wg.Wait()
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				n.logger.Warn("accept error, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleConn(ctx, conn)
		}()
	}
}
