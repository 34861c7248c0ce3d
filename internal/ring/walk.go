// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// TopologyWalk initiates a ring-wide topology discovery walk: it seeds the
// history with its own edge to its successor, forwards the hop, and blocks
// until the hop chain comes back around as a TOPOLOGY DONE. On success it
// adopts the resulting topology locally and broadcasts it to every known
// peer.
func (n *Node) TopologyWalk(ctx context.Context) (string, error) {
	successor, ok := n.state.Successor()
	if !ok {
		return "", protocol.NewWireError(protocol.ErrKindNoSuccessor, "")
	}
	startPort := n.state.OwnPort()
	history := fmt.Sprintf("%s->%s", startPort, PortOf(successor))

	token := n.state.NewWalkToken()
	ch, ok := n.state.RegisterWalk(token)
	if !ok {
		return "", protocol.NewWireError(protocol.ErrKindConflict, "token reuse")
	}

	if err := sendAck(successor, fmt.Sprintf("TOPOLOGY HOP %s %s %s", token, startPort, history)); err != nil {
		n.state.AbandonWalk(token)
		return "", protocol.NewWireError(protocol.ErrKindPeerUnreachable, "%v", err)
	}

	select {
	case result := <-ch:
		edges, order, err := ParseTopology(result)
		if err != nil {
			return "", protocol.NewWireError(protocol.ErrKindParse, "%v", err)
		}
		n.state.SetTopology(edges)
		go n.broadcastTopology(edges, order)
		return result, nil
	case <-time.After(healWalkTimeout):
		n.state.AbandonWalk(token)
		return "", protocol.NewWireError(protocol.ErrKindTimeout, "topology walk did not complete")
	case <-ctx.Done():
		n.state.AbandonWalk(token)
		return "", ctx.Err()
	}
}

func (n *Node) handleTopologyHop(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) < 3 {
		return writeErr(conn, protocol.ErrKindParse, "TOPOLOGY HOP requires <token> <start> <history>")
	}
	token, start, history := cmd.Args[0], cmd.Args[1], cmd.Args[2]
	if err := writeOK(conn); err != nil {
		return err
	}
	go n.continueTopologyHop(token, start, history)
	return nil
}

func (n *Node) continueTopologyHop(token, start, history string) {
	successor, ok := n.state.Successor()
	if !ok {
		n.logger.Warn("topology hop: no successor, dropping token", "token", token)
		return
	}
	to := PortOf(successor)
	newHistory := history + ";" + n.state.OwnPort() + "->" + to

	if to == start {
		n.sendTopologyDone(start, token, newHistory)
		return
	}
	if err := sendAck(successor, fmt.Sprintf("TOPOLOGY HOP %s %s %s", token, start, newHistory)); err != nil {
		n.logger.Warn("topology hop: failed to forward", "token", token, "error", err)
	}
}

func (n *Node) sendTopologyDone(startPort, token, history string) {
	if err := sendAck(n.peerAddr(startPort), fmt.Sprintf("TOPOLOGY DONE %s %s", token, history)); err != nil {
		n.logger.Warn("topology done: failed to reach initiator", "token", token, "error", err)
	}
}

func (n *Node) handleTopologyDone(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return writeErr(conn, protocol.ErrKindParse, "TOPOLOGY DONE requires <token> <history>")
	}
	n.state.CompleteWalk(cmd.Args[0], cmd.Args[1])
	return writeOK(conn)
}

// NetmapDiscover walks the ring collecting each peer's own liveness entry,
// the netmap analogue of TopologyWalk. See SPEC_FULL.md §13a: the wire
// verbs NETMAP HOP/DONE complete what the prose of this operation requires
// beyond what the command table spells out.
func (n *Node) NetmapDiscover(ctx context.Context) (map[string]bool, error) {
	successor, ok := n.state.Successor()
	if !ok {
		return nil, protocol.NewWireError(protocol.ErrKindNoSuccessor, "")
	}
	ownPort := n.state.OwnPort()
	history := ownPort + "=Alive"

	token := n.state.NewWalkToken()
	ch, ok := n.state.RegisterWalk(token)
	if !ok {
		return nil, protocol.NewWireError(protocol.ErrKindConflict, "token reuse")
	}

	if err := sendAck(successor, fmt.Sprintf("NETMAP HOP %s %s %s", token, ownPort, history)); err != nil {
		n.state.AbandonWalk(token)
		return nil, protocol.NewWireError(protocol.ErrKindPeerUnreachable, "%v", err)
	}

	select {
	case result := <-ch:
		m, err := ParseNetmap(result)
		if err != nil {
			return nil, protocol.NewWireError(protocol.ErrKindParse, "%v", err)
		}
		n.state.SetNetmap(m)
		go n.broadcastNetmap()
		return m, nil
	case <-time.After(healWalkTimeout):
		n.state.AbandonWalk(token)
		return nil, protocol.NewWireError(protocol.ErrKindTimeout, "netmap discover did not complete")
	case <-ctx.Done():
		n.state.AbandonWalk(token)
		return nil, ctx.Err()
	}
}

func (n *Node) handleNetmapHop(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) < 3 {
		return writeErr(conn, protocol.ErrKindParse, "NETMAP HOP requires <token> <start> <history>")
	}
	token, start, history := cmd.Args[0], cmd.Args[1], cmd.Args[2]
	if err := writeOK(conn); err != nil {
		return err
	}
	go n.continueNetmapHop(token, start, history)
	return nil
}

func (n *Node) continueNetmapHop(token, start, history string) {
	newHistory := history + "," + n.state.OwnPort() + "=Alive"
	successor, ok := n.state.Successor()
	if !ok {
		n.logger.Warn("netmap hop: no successor, dropping token", "token", token)
		return
	}
	if PortOf(successor) == start {
		n.sendNetmapDone(start, token, newHistory)
		return
	}
	if err := sendAck(successor, fmt.Sprintf("NETMAP HOP %s %s %s", token, start, newHistory)); err != nil {
		n.logger.Warn("netmap hop: failed to forward", "token", token, "error", err)
	}
}

func (n *Node) sendNetmapDone(startPort, token, history string) {
	if err := sendAck(n.peerAddr(startPort), fmt.Sprintf("NETMAP DONE %s %s", token, history)); err != nil {
		n.logger.Warn("netmap done: failed to reach initiator", "token", token, "error", err)
	}
}

func (n *Node) handleNetmapDone(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return writeErr(conn, protocol.ErrKindParse, "NETMAP DONE requires <token> <history>")
	}
	n.state.CompleteWalk(cmd.Args[0], cmd.Args[1])
	return writeOK(conn)
}

// broadcastNetmap, broadcastFileTags, and broadcastTopology implement the
// best-effort, direct-connection broadcast discipline: every known peer is
// contacted once with a single SET command; failures are logged and do not
// abort the rest of the fan-out.
func (n *Node) broadcastNetmap() {
	n.broadcastToAll(fmt.Sprintf("NETMAP SET %s", EncodeNetmap(n.state.NetmapSnapshot())))
}

func (n *Node) broadcastFileTags() {
	n.broadcastToAll(fmt.Sprintf("FILE TAGS-SET %s", EncodeFileTags(n.state.FileTagsSnapshot())))
}

func (n *Node) broadcastTopology(edges map[string]string, order []string) {
	n.broadcastToAll(fmt.Sprintf("TOPOLOGY SET %s", EncodeTopology(edges, order)))
}

func (n *Node) broadcastToAll(line string) {
	ownPort := n.state.OwnPort()
	for port := range n.state.NetmapSnapshot() {
		if port == ownPort {
			continue
		}
		addr := n.peerAddr(port)
		if err := sendAck(addr, line); err != nil {
			n.logger.Debug("broadcast delivery failed", "peer", addr, "line", line, "error", err)
		}
	}
}
