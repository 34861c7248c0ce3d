// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// gossipLoop runs the fixed-interval ping/heal cycle until ctx is canceled.
func (n *Node) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			successor, ok := n.state.Successor()
			if !ok {
				continue
			}
			n.pingAndHealSuccessor(ctx, successor)
		}
	}
}

func (n *Node) pingAndHealSuccessor(ctx context.Context, successor string) {
	if err := n.pingPeer(successor); err == nil {
		return
	}
	n.logger.Warn("successor unresponsive, starting heal", "successor", successor)
	n.healDeadSuccessor(ctx, successor)
}

func (n *Node) pingPeer(addr string) error {
	conn, err := dialPeer(addr, n.cfg.GossipTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(n.cfg.GossipTimeout))

	if err := protocol.WriteLine(conn, "NODE PING"); err != nil {
		return err
	}
	br := bufio.NewReader(conn)
	resp, err := protocol.ReadLine(br)
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response %q", resp)
	}
	return nil
}

// healDeadSuccessor runs the full heal workflow for a successor that failed
// its ping: mark dead, spawn a replacement process bound to the same
// address, wait for it to come up, push it the knowledge it needs to rejoin
// the ring, then mark it alive again.
func (n *Node) healDeadSuccessor(ctx context.Context, deadAddr string) {
	deadPort := PortOf(deadAddr)

	n.state.SetPeerAlive(deadPort, false)
	n.broadcastNetmap()

	topology := n.state.TopologySnapshot()
	deadsNext, hasNext := topology[deadPort]

	if err := n.spawnReplacement(deadAddr); err != nil {
		n.logger.Error("failed to spawn replacement peer", "addr", deadAddr, "error", err)
		return
	}

	if !n.pollUntilReachable(ctx, deadAddr, n.cfg.HealPollTimeout) {
		n.logger.Error("replacement peer never came up", "addr", deadAddr)
		return
	}

	resyncOK := true
	if hasNext {
		if err := sendAck(deadAddr, fmt.Sprintf("NODE NEXT %s", n.peerAddr(deadsNext))); err != nil {
			n.logger.Error("resync: NODE NEXT failed", "addr", deadAddr, "error", err)
			resyncOK = false
		}
	}
	if err := sendAck(deadAddr, fmt.Sprintf("NETMAP SET %s", EncodeNetmap(n.state.NetmapSnapshot()))); err != nil {
		n.logger.Error("resync: NETMAP SET failed", "addr", deadAddr, "error", err)
		resyncOK = false
	}
	if err := sendAck(deadAddr, fmt.Sprintf("TOPOLOGY SET %s", EncodeTopology(topology, nil))); err != nil {
		n.logger.Error("resync: TOPOLOGY SET failed", "addr", deadAddr, "error", err)
		resyncOK = false
	}
	if err := sendAck(deadAddr, fmt.Sprintf("FILE TAGS-SET %s", EncodeFileTags(n.state.FileTagsSnapshot()))); err != nil {
		n.logger.Error("resync: FILE TAGS-SET failed", "addr", deadAddr, "error", err)
		resyncOK = false
	}
	if !resyncOK {
		n.logger.Warn("heal resync incomplete, peer left for a future heal to finish", "addr", deadAddr)
	}

	n.state.SetPeerAlive(deadPort, true)
	n.broadcastNetmap()
}

// spawnReplacement starts a detached copy of this same executable bound to
// addr. The new process is only trusted once it accepts a TCP connection on
// addr (pollUntilReachable); a process that never comes up is simply abandoned,
// never promoted into the ring.
func (n *Node) spawnReplacement(addr string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving self executable: %w", err)
	}
	cmd := exec.Command(exe, "run", "--addr", addr)
	setDetached(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting replacement process: %w", err)
	}
	go cmd.Process.Release()
	return nil
}

func (n *Node) pollUntilReachable(ctx context.Context, addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, healPollInterval)
		if err == nil {
			conn.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(healPollInterval):
		}
	}
	return false
}

// HealRing runs the manual, ring-wide NODE HEAL walk: register a rendezvous
// token, kick off the hop chain on the successor, and block until the
// initiating hop reports back via NODE HEAL-DONE.
func (n *Node) HealRing(ctx context.Context) error {
	successor, ok := n.state.Successor()
	if !ok {
		return protocol.NewWireError(protocol.ErrKindNoSuccessor, "")
	}
	token := n.state.NewWalkToken()
	ch, ok := n.state.RegisterWalk(token)
	if !ok {
		return protocol.NewWireError(protocol.ErrKindConflict, "token reuse")
	}

	if err := sendAck(successor, fmt.Sprintf("NODE HEAL-HOP %s %s", token, n.state.OwnPort())); err != nil {
		n.state.AbandonWalk(token)
		return protocol.NewWireError(protocol.ErrKindPeerUnreachable, "%v", err)
	}

	select {
	case <-ch:
		return nil
	case <-time.After(healWalkTimeout):
		n.state.AbandonWalk(token)
		return protocol.NewWireError(protocol.ErrKindTimeout, "heal walk did not complete")
	case <-ctx.Done():
		n.state.AbandonWalk(token)
		return ctx.Err()
	}
}

func (n *Node) handleHealHop(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) != 2 {
		return writeErr(conn, protocol.ErrKindParse, "NODE HEAL-HOP requires <token> <start>")
	}
	token, start := cmd.Args[0], cmd.Args[1]
	if err := writeOK(conn); err != nil {
		return err
	}
	go n.continueHealHop(token, start)
	return nil
}

func (n *Node) continueHealHop(token, start string) {
	successor, ok := n.state.Successor()
	if !ok {
		n.logger.Warn("heal hop: no successor, dropping token", "token", token)
		return
	}

	n.pingAndHealSuccessor(context.Background(), successor)

	successor, ok = n.state.Successor()
	if !ok {
		return
	}

	if PortOf(successor) == start {
		n.sendHealDone(start, token)
		return
	}
	if err := sendAck(successor, fmt.Sprintf("NODE HEAL-HOP %s %s", token, start)); err != nil {
		n.logger.Warn("heal hop: failed to forward", "token", token, "successor", successor, "error", err)
	}
}

func (n *Node) sendHealDone(startPort, token string) {
	if err := sendAck(n.peerAddr(startPort), fmt.Sprintf("NODE HEAL-DONE %s", token)); err != nil {
		n.logger.Warn("heal-done: failed to reach initiator", "token", token, "error", err)
	}
}

func (n *Node) handleHealDone(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) != 1 {
		return writeErr(conn, protocol.ErrKindParse, "NODE HEAL-DONE requires <token>")
	}
	n.state.CompleteWalk(cmd.Args[0], "done")
	return writeOK(conn)
}
