// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hazardous-sun/ouroboros-fs/internal/hoststats"
	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// handleConn owns one accepted connection for its whole lifetime: it reads
// exactly one command line, dispatches by NOUN, and lets the handler decide
// how (and whether) to keep using the socket beyond that single line.
func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)

	line, err := protocol.ReadLine(br)
	if err != nil {
		return
	}
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		protocol.NewWireError(protocol.ErrKindParse, "%v", err).WriteTo(conn)
		return
	}

	if err := n.dispatch(ctx, conn, br, cmd); err != nil {
		n.logger.Debug("command failed", "noun", cmd.Noun, "verb", cmd.Verb, "error", err)
	}
}

// dispatch routes a parsed command to its noun-specific handler. Every
// handler is responsible for writing its own complete wire response
// (success or ERR); dispatch only writes ERR itself for nouns/verbs nothing
// else claims.
func (n *Node) dispatch(ctx context.Context, conn net.Conn, br *bufio.Reader, cmd protocol.Command) error {
	switch cmd.Noun {
	case "NODE":
		return n.handleNode(ctx, conn, cmd)
	case "NETMAP":
		return n.handleNetmap(ctx, conn, cmd)
	case "TOPOLOGY":
		return n.handleTopology(ctx, conn, cmd)
	case "FILE":
		return n.handleFile(ctx, conn, br, cmd)
	case "RING":
		return n.handleRing(conn, cmd)
	default:
		return writeErr(conn, protocol.ErrKindUnknownCommand, "%s", cmd.Noun)
	}
}

func writeOK(conn net.Conn) error {
	return protocol.WriteLine(conn, "OK")
}

func writeErr(conn net.Conn, kind, format string, args ...interface{}) error {
	return protocol.NewWireError(kind, format, args...).WriteTo(conn)
}

// writeWireErr renders err to the socket, preserving its Kind if it already
// is a *protocol.WireError, otherwise folding it into ErrKindIO.
func writeWireErr(conn net.Conn, err error) error {
	var werr *protocol.WireError
	if errors.As(err, &werr) {
		return werr.WriteTo(conn)
	}
	return protocol.NewWireError(protocol.ErrKindIO, "%v", err).WriteTo(conn)
}

func (n *Node) handleNode(ctx context.Context, conn net.Conn, cmd protocol.Command) error {
	switch cmd.Verb {
	case "PING":
		return protocol.WriteLine(conn, "PONG")

	case "NEXT":
		if len(cmd.Args) != 1 {
			return writeErr(conn, protocol.ErrKindParse, "NODE NEXT requires <addr>")
		}
		n.state.SetSuccessor(cmd.Args[0])
		return writeOK(conn)

	case "STATUS":
		next, ok := n.state.Successor()
		if !ok {
			next = "none"
		}
		if err := protocol.WriteLine(conn, fmt.Sprintf("%s %s", n.state.OwnPort(), next)); err != nil {
			return err
		}
		if snap := n.monitor.Snapshot(); snap != (hoststats.Snapshot{}) {
			if err := protocol.WriteLine(conn, "STATS "+snap.String()); err != nil {
				return err
			}
		}
		return writeOK(conn)

	case "HEAL":
		if err := n.HealRing(ctx); err != nil {
			return writeWireErr(conn, err)
		}
		return writeOK(conn)

	case "HEAL-HOP":
		return n.handleHealHop(conn, cmd)

	case "HEAL-DONE":
		return n.handleHealDone(conn, cmd)

	default:
		return writeErr(conn, protocol.ErrKindUnknownCommand, "NODE %s", cmd.Verb)
	}
}

func (n *Node) handleNetmap(ctx context.Context, conn net.Conn, cmd protocol.Command) error {
	switch cmd.Verb {
	case "GET":
		for port, alive := range n.state.NetmapSnapshot() {
			state := "Dead"
			if alive {
				state = "Alive"
			}
			if err := protocol.WriteLine(conn, fmt.Sprintf("%s=%s", port, state)); err != nil {
				return err
			}
		}
		return writeOK(conn)

	case "SET":
		if len(cmd.Args) != 1 {
			return writeErr(conn, protocol.ErrKindParse, "NETMAP SET requires <csv>")
		}
		m, err := ParseNetmap(cmd.Args[0])
		if err != nil {
			return writeErr(conn, protocol.ErrKindParse, "%v", err)
		}
		n.state.SetNetmap(m)
		return writeOK(conn)

	case "DISCOVER":
		m, err := n.NetmapDiscover(ctx)
		if err != nil {
			return writeWireErr(conn, err)
		}
		if err := protocol.WriteLine(conn, EncodeNetmap(m)); err != nil {
			return err
		}
		return writeOK(conn)

	case "HOP":
		return n.handleNetmapHop(conn, cmd)

	case "DONE":
		return n.handleNetmapDone(conn, cmd)

	default:
		return writeErr(conn, protocol.ErrKindUnknownCommand, "NETMAP %s", cmd.Verb)
	}
}

func (n *Node) handleTopology(ctx context.Context, conn net.Conn, cmd protocol.Command) error {
	switch cmd.Verb {
	case "WALK":
		history, err := n.TopologyWalk(ctx)
		if err != nil {
			return writeWireErr(conn, err)
		}
		if err := protocol.WriteLine(conn, history); err != nil {
			return err
		}
		return writeOK(conn)

	case "HOP":
		return n.handleTopologyHop(conn, cmd)

	case "DONE":
		return n.handleTopologyDone(conn, cmd)

	case "SET":
		if len(cmd.Args) != 1 {
			return writeErr(conn, protocol.ErrKindParse, "TOPOLOGY SET requires <hist>")
		}
		edges, _, err := ParseTopology(cmd.Args[0])
		if err != nil {
			return writeErr(conn, protocol.ErrKindParse, "%v", err)
		}
		n.state.SetTopology(edges)
		return writeOK(conn)

	default:
		return writeErr(conn, protocol.ErrKindUnknownCommand, "TOPOLOGY %s", cmd.Verb)
	}
}

func (n *Node) handleRing(conn net.Conn, cmd protocol.Command) error {
	if cmd.Verb != "FORWARD" {
		return writeErr(conn, protocol.ErrKindUnknownCommand, "RING %s", cmd.Verb)
	}
	if len(cmd.Args) < 2 {
		return writeErr(conn, protocol.ErrKindParse, "RING FORWARD requires <ttl> <msg>")
	}
	ttl, err := protocol.ParseUint(cmd.Args[0], 32)
	if err != nil {
		return writeErr(conn, protocol.ErrKindParse, "invalid ttl: %v", err)
	}
	if err := writeOK(conn); err != nil {
		return err
	}
	if ttl == 0 {
		return nil
	}
	msg := cmd.Args[1]
	go n.forwardRing(ttl-1, msg)
	return nil
}

func (n *Node) forwardRing(ttl uint64, msg string) {
	successor, ok := n.state.Successor()
	if !ok {
		return
	}
	if err := sendAck(successor, fmt.Sprintf("RING FORWARD %d %s", ttl, msg)); err != nil {
		n.logger.Debug("ring forward failed", "successor", successor, "error", err)
	}
}
