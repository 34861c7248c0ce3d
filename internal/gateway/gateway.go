// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/hazardous-sun/ouroboros-fs/internal/config"
)

// Gateway is the protocol-sniffing front door: one TCP listener shared by
// the REST adapter and the raw ring-protocol proxy.
type Gateway struct {
	cfg    *config.GatewayConfig
	logger *slog.Logger
	cache  *PeerCache
	http   http.Handler

	host string
}

// New builds a Gateway from its configuration.
func New(cfg *config.GatewayConfig, logger *slog.Logger) *Gateway {
	cache := NewPeerCache(cfg.Bootstrap, logger)
	host := "127.0.0.1"
	if h, _, err := net.SplitHostPort(cfg.Bootstrap[0]); err == nil && h != "" {
		host = h
	}
	g := &Gateway{cfg: cfg, logger: logger.With("component", "gateway"), cache: cache, host: host}
	g.http = newRouter(g)
	return g
}

// peerAddr resolves a bare port from the cached netmap into a dialable
// address, the same single-host assumption the ring runtime makes for
// peer-to-peer dialing: this gateway only ever fronts a ring deployed on one
// host, identified by the host component of its first bootstrap address.
func (g *Gateway) peerAddr(port string) string {
	return net.JoinHostPort(g.host, port)
}

// pickAlive returns a dialable address for the next Alive peer in rotation.
func (g *Gateway) pickAlive() (string, error) {
	port, ok := g.cache.Next()
	if !ok {
		return "", fmt.Errorf("no alive peers known")
	}
	return g.peerAddr(port), nil
}

// Run starts the netmap refresh loop and serves the listener until ctx is
// canceled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.Listen, err)
	}
	g.logger.Info("gateway listening", "addr", g.cfg.Listen, "bootstrap", g.cfg.Bootstrap)

	go g.cache.Start(ctx, g.cfg.RefreshInterval)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go g.handleConn(conn)
	}
}

// handleConn sniffs the first bytes of a new connection to tell an HTTP
// request apart from the ring's own line protocol, and routes accordingly.
// Only GET/POST/OPTIONS lead to the REST adapter; everything else (the
// ring's <NOUN> <VERB> lines) is proxied byte-for-byte to a selected peer.
func (g *Gateway) handleConn(conn net.Conn) {
	br := bufio.NewReader(conn)
	prefix, err := br.Peek(8)
	if err != nil && len(prefix) == 0 {
		conn.Close()
		return
	}

	if looksLikeHTTP(prefix) {
		g.serveHTTP(conn, br)
		return
	}

	g.proxyConn(conn, br)
}

func looksLikeHTTP(prefix []byte) bool {
	s := string(prefix)
	for _, method := range []string{"GET ", "POST ", "OPTIONS "} {
		if len(s) >= len(method) && s[:len(method)] == method {
			return true
		}
	}
	return false
}

// serveHTTP hands a sniffed HTTP connection to the stdlib server machinery
// via a one-shot net.Listener that yields exactly this connection.
func (g *Gateway) serveHTTP(conn net.Conn, br *bufio.Reader) {
	ln := &singleConnListener{conn: &peekedConn{Conn: conn, br: br}, done: make(chan struct{})}
	srv := &http.Server{Handler: g.http}
	srv.Serve(ln)
}

// peekedConn lets the already-buffered sniff bytes feed http.Server's own
// reads instead of being dropped.
type peekedConn struct {
	net.Conn
	br *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.br.Read(b) }

// singleConnListener is an http.Server driver for exactly one already-
// accepted connection, since the gateway's real net.Listener is shared with
// the raw proxy path and cannot be handed to http.Server directly.
type singleConnListener struct {
	conn net.Conn
	done chan struct{}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, fmt.Errorf("listener closed")
	default:
		close(l.done)
		return l.conn, nil
	}
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }
