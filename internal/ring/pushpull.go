// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// handleFile routes a FILE-noun command to its handler. Several verbs carry
// a binary payload framed by exact byte count rather than by newline, so
// they take br directly instead of going through a generic arg parser.
func (n *Node) handleFile(ctx context.Context, conn net.Conn, br *bufio.Reader, cmd protocol.Command) error {
	switch cmd.Verb {
	case "PUSH":
		return n.handleFilePush(ctx, conn, br, cmd)
	case "RELAY-STREAM":
		return n.handleFileRelayStream(ctx, conn, br, cmd)
	case "PULL":
		return n.handleFilePull(conn, cmd)
	case "LIST":
		return n.handleFileList(conn)
	case "TAGS-SET":
		return n.handleFileTagsSet(conn, cmd)
	case "GET-CHUNK":
		return n.handleFileGetChunk(conn, cmd, false)
	case "GET-BACKUP-CHUNK":
		return n.handleFileGetChunk(conn, cmd, true)
	case "GET-CHUNK-FOR-BACKUP":
		return n.handleFileGetChunk(conn, cmd, false)
	case "NOTIFY-CHUNK-SAVED":
		return n.handleFileNotifyChunkSaved(conn, cmd)
	default:
		return writeErr(conn, protocol.ErrKindUnknownCommand, "FILE %s", cmd.Verb)
	}
}

// chunkLen returns the length of zero-based chunk i out of parts equal-ish
// pieces of a size-byte file: size/parts, with the remainder spread across
// the first size%parts chunks.
func chunkLen(size uint64, parts uint32, i uint32) uint64 {
	base := size / uint64(parts)
	rem := size % uint64(parts)
	if uint64(i) < rem {
		return base + 1
	}
	return base
}

// tailLen returns the combined length of every chunk after the 1-based
// idx-th one (zero-based indices idx..parts-1) — the number of bytes still
// owed to the stream once the 1-based idx-th chunk has been consumed from
// it. Each hop's incoming stream only ever carries its own chunk plus this
// tail, never the chunks upstream hops already stripped off.
func tailLen(size uint64, parts, idx uint32) uint64 {
	var total uint64
	for j := idx; j < parts; j++ {
		total += chunkLen(size, parts, j)
	}
	return total
}

func (n *Node) handleFilePush(ctx context.Context, conn net.Conn, br *bufio.Reader, cmd protocol.Command) error {
	if len(cmd.Args) != 2 {
		return writeErr(conn, protocol.ErrKindParse, "FILE PUSH requires <size> <name>")
	}
	size, err := protocol.ParseUint(cmd.Args[0], 64)
	if err != nil {
		return writeErr(conn, protocol.ErrKindParse, "invalid size: %v", err)
	}
	name := cmd.Args[1]
	if err := validateFileName(name); err != nil {
		return writeErr(conn, protocol.ErrKindParse, "%v", err)
	}

	netmap := n.state.NetmapSnapshot()
	var parts uint32
	for _, alive := range netmap {
		if alive {
			parts++
		}
	}
	if parts == 0 {
		parts = 1
	}

	startPort := n.state.OwnPort()

	if _, err := n.ingestAndRelay(ctx, br, startPort, size, parts, 1, name); err != nil {
		return writeWireErr(conn, err)
	}

	n.state.SetFileTag(name, FileTag{Start: startPort, Size: size, Parts: parts})
	go n.broadcastFileTags()

	return writeOK(conn)
}

func (n *Node) handleFileRelayStream(ctx context.Context, conn net.Conn, br *bufio.Reader, cmd protocol.Command) error {
	if len(cmd.Args) != 5 {
		return writeErr(conn, protocol.ErrKindParse, "FILE RELAY-STREAM requires <start> <size> <parts> <idx> <name>")
	}
	startPort := cmd.Args[0]
	size, err := protocol.ParseUint(cmd.Args[1], 64)
	if err != nil {
		return writeErr(conn, protocol.ErrKindParse, "invalid size: %v", err)
	}
	parts, err := protocol.ParseUint(cmd.Args[2], 32)
	if err != nil {
		return writeErr(conn, protocol.ErrKindParse, "invalid parts: %v", err)
	}
	idx, err := protocol.ParseUint(cmd.Args[3], 32)
	if err != nil {
		return writeErr(conn, protocol.ErrKindParse, "invalid idx: %v", err)
	}
	name := cmd.Args[4]
	if err := validateFileName(name); err != nil {
		return writeErr(conn, protocol.ErrKindParse, "%v", err)
	}

	if _, err := n.ingestAndRelay(ctx, br, startPort, size, uint32(parts), uint32(idx), name); err != nil {
		return writeWireErr(conn, err)
	}
	return writeOK(conn)
}

// ingestAndRelay receives the idx-th (1-based) chunk of a parts-way split of
// a size-byte file named name from br, writes it to content/, notifies this
// node's predecessor so the chunk gets mirrored, and — if idx < parts —
// relays the remaining bytes to the successor, waiting for its final ack.
func (n *Node) ingestAndRelay(ctx context.Context, br *bufio.Reader, startPort string, size uint64, parts, idx uint32, name string) (string, error) {
	length := chunkLen(size, parts, idx-1)
	chunkName := ChunkFileName(name, int(idx), int(parts))

	if err := n.store.WriteContent(chunkName, br, int64(length)); err != nil {
		return "", protocol.NewWireError(protocol.ErrKindIO, "writing chunk: %v", err)
	}

	go n.notifyPredecessor(chunkName)

	if idx >= parts {
		return "OK", nil
	}

	successor, ok := n.state.Successor()
	if !ok {
		return "", protocol.NewWireError(protocol.ErrKindNoSuccessor, "")
	}

	remaining := tailLen(size, parts, idx)
	conn, err := dialPeer(successor, dialTimeout)
	if err != nil {
		return "", protocol.NewWireError(protocol.ErrKindPeerUnreachable, "%v", err)
	}
	defer conn.Close()

	header := fmt.Sprintf("FILE RELAY-STREAM %s %d %d %d %s", startPort, size, parts, idx+1, name)
	if err := protocol.WriteLine(conn, header); err != nil {
		return "", protocol.NewWireError(protocol.ErrKindPeerUnreachable, "%v", err)
	}

	dst := throttledRelayWriter(ctx, conn, n.relayLimiter)
	if _, err := protocol.CopyPayload(dst, br, int64(remaining)); err != nil {
		return "", protocol.NewWireError(protocol.ErrKindIO, "relaying to successor: %v", err)
	}

	respBr := bufio.NewReader(conn)
	resp, err := protocol.ReadLine(respBr)
	if err != nil {
		return "", protocol.NewWireError(protocol.ErrKindPeerUnreachable, "reading successor ack: %v", err)
	}
	if werr, ok := protocol.ParseWireError(resp); ok {
		return "", werr
	}
	return resp, nil
}

func (n *Node) handleFilePull(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) != 1 {
		return writeErr(conn, protocol.ErrKindParse, "FILE PULL requires <name>")
	}
	name := cmd.Args[0]
	tag, ok := n.state.GetFileTag(name)
	if !ok {
		return writeErr(conn, protocol.ErrKindNoSuchFile, "%s", name)
	}

	topology := n.state.TopologySnapshot()
	owner := tag.Start

	for i := uint32(0); i < tag.Parts; i++ {
		chunkName := ChunkFileName(name, int(i+1), int(tag.Parts))

		data, err := n.fetchChunkForPull(owner, chunkName, topology)
		if err != nil {
			if i == 0 {
				return writeErr(conn, protocol.ErrKindChunkUnavailable, "%v", err)
			}
			n.logger.Warn("pull aborted mid-stream", "name", name, "chunk", chunkName, "error", err)
			return nil
		}
		if _, err := conn.Write(data); err != nil {
			return err
		}

		next, ok := topology[owner]
		if !ok {
			break
		}
		owner = next
	}
	return nil
}

// fetchChunkForPull fetches chunkName from owner via GET-CHUNK, falling back
// to owner's predecessor's GET-BACKUP-CHUNK if owner is unreachable.
func (n *Node) fetchChunkForPull(owner, chunkName string, topology map[string]string) ([]byte, error) {
	data, err := requestChunk(n.peerAddr(owner), "FILE GET-CHUNK", chunkName, dialTimeout)
	if err == nil {
		return data, nil
	}
	n.logger.Warn("chunk owner unreachable, falling back to backup", "owner", owner, "chunk", chunkName, "error", err)
	n.state.SetPeerAlive(owner, false)
	go n.broadcastNetmap()

	pred, ok := predecessorOf(topology, owner)
	if !ok {
		return nil, fmt.Errorf("owner %s unreachable and predecessor unknown: %w", owner, err)
	}
	backupData, backupErr := requestChunk(n.peerAddr(pred), "FILE GET-BACKUP-CHUNK", chunkName, dialTimeout)
	if backupErr != nil {
		return nil, fmt.Errorf("owner %s and backup holder %s both unreachable: %w", owner, pred, backupErr)
	}
	return backupData, nil
}

func predecessorOf(topology map[string]string, port string) (string, bool) {
	for from, to := range topology {
		if to == port {
			return from, true
		}
	}
	return "", false
}

func (n *Node) handleFileList(conn net.Conn) error {
	tags := n.state.FileTagsSnapshot()
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := tags[name]
		if err := protocol.WriteLine(conn, fmt.Sprintf("%s,%s,%d,%d", name, t.Start, t.Size, t.Parts)); err != nil {
			return err
		}
	}
	return writeOK(conn)
}

func (n *Node) handleFileTagsSet(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) != 1 {
		return writeErr(conn, protocol.ErrKindParse, "FILE TAGS-SET requires <csv>")
	}
	tags, err := ParseFileTags(cmd.Args[0])
	if err != nil {
		return writeErr(conn, protocol.ErrKindParse, "%v", err)
	}
	n.state.SetFileTags(tags)
	return writeOK(conn)
}

func (n *Node) handleFileGetChunk(conn net.Conn, cmd protocol.Command, fromBackup bool) error {
	if len(cmd.Args) != 1 {
		return writeErr(conn, protocol.ErrKindParse, "requires <chunk>")
	}
	chunk := cmd.Args[0]

	var f *os.File
	var size int64
	var err error
	if fromBackup {
		f, size, err = n.store.OpenBackup(chunk)
	} else {
		f, size, err = n.store.OpenContent(chunk)
	}
	if err != nil {
		if errors.Is(err, ErrChunkNotFound) {
			return writeErr(conn, protocol.ErrKindNoSuchFile, "%s", chunk)
		}
		return writeErr(conn, protocol.ErrKindIO, "%v", err)
	}
	defer f.Close()

	if err := protocol.WriteLine(conn, fmt.Sprintf("LEN %d", size)); err != nil {
		return err
	}
	if _, err := io.Copy(conn, f); err != nil {
		return err
	}
	return writeOK(conn)
}

func (n *Node) handleFileNotifyChunkSaved(conn net.Conn, cmd protocol.Command) error {
	if len(cmd.Args) != 1 {
		return writeErr(conn, protocol.ErrKindParse, "NOTIFY-CHUNK-SAVED requires <chunk>")
	}
	chunk := cmd.Args[0]
	if err := validateChunkName(chunk); err != nil {
		return writeErr(conn, protocol.ErrKindParse, "%v", err)
	}
	if err := writeOK(conn); err != nil {
		return err
	}
	go n.fetchBackupChunk(chunk)
	return nil
}
