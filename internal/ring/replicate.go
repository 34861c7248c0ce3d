// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"bufio"
	"fmt"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// notifyPredecessor tells this node's predecessor (derived from the
// topology map) that chunk was just saved, so it can pull the mirror.
// Best-effort: skipped entirely if the predecessor is unknown (degraded
// mode; backup catches up on the next walk or push), retried once on
// failure, always logged rather than surfaced to the caller — per spec,
// saving and acknowledging the push is never blocked on this.
func (n *Node) notifyPredecessor(chunk string) {
	pred, ok := n.state.Predecessor()
	if !ok {
		n.logger.Debug("predecessor unknown, skipping backup notification", "chunk", chunk)
		return
	}
	if pred == n.state.OwnPort() {
		return
	}
	predAddr := n.peerAddr(pred)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := n.sendNotify(predAddr, chunk); err != nil {
			lastErr = err
			continue
		}
		return
	}
	n.logger.Warn("notify-chunk-saved failed after retry", "chunk", chunk, "predecessor", predAddr, "error", lastErr)
}

func (n *Node) sendNotify(addr, chunk string) error {
	return sendAck(addr, fmt.Sprintf("FILE NOTIFY-CHUNK-SAVED %s", chunk))
}

// fetchBackupChunk runs the predecessor side of replication: the
// predecessor's successor is, by definition, whoever just notified it, so
// it dials its own successor back, pulls chunk via GET-CHUNK-FOR-BACKUP,
// and mirrors it into backup/. Retried once; failures leave the backup
// stale until the next push or heal.
func (n *Node) fetchBackupChunk(chunk string) {
	successor, ok := n.state.Successor()
	if !ok {
		n.logger.Warn("no successor to fetch backup chunk from", "chunk", chunk)
		return
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := n.doFetchBackupChunk(successor, chunk); err != nil {
			lastErr = err
			continue
		}
		return
	}
	n.logger.Warn("backup fetch failed after retry", "chunk", chunk, "successor", successor, "error", lastErr)
}

func (n *Node) doFetchBackupChunk(addr, chunk string) error {
	conn, err := dialPeer(addr, backupFetchTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(backupFetchTimeout))

	if err := protocol.WriteLine(conn, fmt.Sprintf("FILE GET-CHUNK-FOR-BACKUP %s", chunk)); err != nil {
		return err
	}
	br := bufio.NewReader(conn)
	size, err := readLenHeader(br)
	if err != nil {
		return err
	}
	if err := n.store.WriteBackup(chunk, br, size); err != nil {
		return err
	}
	protocol.ReadLine(br) // trailing OK, best-effort
	return nil
}
