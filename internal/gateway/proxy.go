// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"io"
	"net"
)

// proxyConn forwards a sniffed non-HTTP connection byte-for-byte to a
// selected Alive peer: whatever the client already wrote into br (the
// sniffed prefix) goes first, then both directions are copied concurrently
// until either side closes. Best-effort; a peer that turns out to be
// unreachable is dropped from the cache immediately rather than waiting for
// the next refresh.
func (g *Gateway) proxyConn(client net.Conn, br io.Reader) {
	defer client.Close()

	addr, err := g.pickAlive()
	if err != nil {
		g.logger.Warn("no alive peer to proxy to", "error", err)
		return
	}

	upstream, err := net.Dial("tcp", addr)
	if err != nil {
		g.logger.Warn("proxy upstream dial failed, dropping peer", "addr", addr, "error", err)
		g.cache.MarkDead(portOf(addr))
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, br)
		if tc, ok := upstream.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		if tc, ok := client.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return port
}
