// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

const (
	pushPullTimeout = 30 * time.Second
	healTimeout     = 35 * time.Second
	statusTimeout   = 2 * time.Second
)

// newRouter builds the gateway's REST adapter, CORS middleware included.
func newRouter(g *Gateway) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /netmap/get", g.handleNetmapGet)
	mux.HandleFunc("GET /file/list", g.handleFileList)
	mux.HandleFunc("POST /file/push", g.handleFilePush)
	mux.HandleFunc("GET /file/pull/{name}", g.handleFilePull)
	mux.HandleFunc("POST /network/heal", g.handleNetworkHeal)
	mux.HandleFunc("POST /node/{port}/kill", g.handleNodeKill)
	mux.HandleFunc("GET /network/health", g.handleNetworkHealth)

	return g.withCORS(mux)
}

// withCORS applies a permissive CORS policy and answers preflight OPTIONS
// requests directly, per spec.md §4.8's "OPTIONS *" requirement.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	origin := "*"
	if len(g.cfg.CORSAllowOrigins) > 0 {
		origin = strings.Join(g.cfg.CORSAllowOrigins, ", ")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleNetmapGet(w http.ResponseWriter, r *http.Request) {
	addr, err := g.pickAlive()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	netmap, err := fetchNetmap(addr, statusTimeout)
	if err != nil {
		g.cache.MarkDead(portOf(addr))
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	resp := make(map[string]string, len(netmap))
	for port, alive := range netmap {
		if alive {
			resp[port] = "Alive"
		} else {
			resp[port] = "Dead"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleFileList(w http.ResponseWriter, r *http.Request) {
	addr, err := g.pickAlive()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	entries, err := fetchFileList(addr, statusTimeout)
	if err != nil {
		g.cache.MarkDead(portOf(addr))
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	if entries == nil {
		entries = []FileEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (g *Gateway) handleFilePush(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("query param name is required"))
		return
	}
	if r.ContentLength < 0 {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("Content-Length is required"))
		return
	}

	addr, err := g.pickAlive()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err := pushFileWire(addr, name, r.ContentLength, r.Body, pushPullTimeout); err != nil {
		writeWireJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleFilePull(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("file name is required"))
		return
	}

	addr, err := g.pickAlive()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	br, conn, err := pullFileWire(addr, name, pushPullTimeout)
	if err != nil {
		g.cache.MarkDead(portOf(addr))
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	defer conn.Close()

	if werr, ok := peekWireError(br); ok {
		writeWireJSONError(w, werr)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name))
	io.Copy(w, br)
}

func (g *Gateway) handleNetworkHeal(w http.ResponseWriter, r *http.Request) {
	addr, err := g.pickAlive()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err := healRingWire(addr, healTimeout); err != nil {
		writeWireJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNodeKill has no OS-level reach into peer processes — the gateway
// only ever speaks the ring wire protocol to them — so the only thing it
// can actually do is stop routing to the named port immediately. Real
// process termination is left to the operator driving this route, and the
// response says so explicitly.
func (g *Gateway) handleNodeKill(w http.ResponseWriter, r *http.Request) {
	port := r.PathValue("port")
	if port == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("port is required"))
		return
	}
	g.cache.MarkDead(port)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "removed-from-routing",
		"note":   "the gateway cannot terminate peer processes; stop the process out of band",
	})
}

func (g *Gateway) handleNetworkHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":      "ok",
		"alive_peers": g.cache.Snapshot(),
	}
	if addr, err := g.pickAlive(); err == nil {
		if stats, err := nodeStatusWire(addr, statusTimeout); err == nil && stats != "" {
			resp["peer"] = addr
			resp["peer_stats"] = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeWireJSONError renders a wire-level ERR (or any error) as a JSON body
// mirroring its kind/detail, with a status code chosen from the error kind
// where one is known.
func writeWireJSONError(w http.ResponseWriter, err error) {
	if werr, ok := err.(*protocol.WireError); ok {
		writeJSON(w, statusForWireKind(werr.Kind), map[string]string{
			"error":  werr.Kind,
			"detail": werr.Detail,
		})
		return
	}
	writeJSONError(w, http.StatusBadGateway, err)
}

func statusForWireKind(kind string) int {
	switch kind {
	case protocol.ErrKindNoSuchFile, protocol.ErrKindChunkUnavailable:
		return http.StatusNotFound
	case protocol.ErrKindParse:
		return http.StatusBadRequest
	case protocol.ErrKindPeerUnreachable, protocol.ErrKindNoSuccessor:
		return http.StatusBadGateway
	case protocol.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case protocol.ErrKindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
