// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/config"
	"github.com/hazardous-sun/ouroboros-fs/internal/logging"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// startTestNode brings up a single real ring peer on 127.0.0.1 acting as its
// own successor and predecessor, the minimal single-node ring shape the
// push/pull tests in internal/ring already rely on.
func startTestNode(t *testing.T, port string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger, closer := logging.NewLogger("error", "text", "")
	t.Cleanup(func() { closer.Close() })

	cfg := &config.NodeConfig{
		Addr:            "127.0.0.1:" + port,
		Next:            "127.0.0.1:" + port,
		DataDir:         t.TempDir(),
		GossipInterval:  time.Hour,
		GossipTimeout:   2 * time.Second,
		HealPollTimeout: 5 * time.Second,
	}
	n, err := ring.NewNode(cfg, logger)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	go n.Run(ctx)
	waitForDial(t, "127.0.0.1:"+port)
}

func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never came up", addr)
}

func startTestGateway(t *testing.T, bootstrap string) *Gateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger, closer := logging.NewLogger("error", "text", "")
	t.Cleanup(func() { closer.Close() })

	gwPort := freePort(t)
	cfg := &config.GatewayConfig{
		Listen:          "127.0.0.1:" + gwPort,
		Bootstrap:       []string{bootstrap},
		RefreshInterval: time.Hour,
	}
	g := New(cfg, logger)
	go g.Run(ctx)
	waitForDial(t, cfg.Listen)
	g.cache.Refresh(ctx)
	return g
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocating free port: %v", err)
	}
	defer ln.Close()
	return ring.PortOf(ln.Addr().String())
}

func TestGatewayHTTPPushPullRoundTrip(t *testing.T) {
	nodePort := freePort(t)
	startTestNode(t, nodePort)
	g := startTestGateway(t, "127.0.0.1:"+nodePort)

	body := []byte("gateway round trip payload")
	pushResp, err := http.Post(
		fmt.Sprintf("http://%s/file/push?name=gw-test", g.cfg.Listen),
		"application/octet-stream", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	defer pushResp.Body.Close()
	if pushResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(pushResp.Body)
		t.Fatalf("push status = %d, body = %s", pushResp.StatusCode, b)
	}

	pullResp, err := http.Get(fmt.Sprintf("http://%s/file/pull/gw-test", g.cfg.Listen))
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer pullResp.Body.Close()
	got, err := io.ReadAll(pullResp.Body)
	if err != nil {
		t.Fatalf("reading pull body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("pull body = %q, want %q", got, body)
	}
}

func TestGatewayFilePullUnknownReturnsJSONError(t *testing.T) {
	nodePort := freePort(t)
	startTestNode(t, nodePort)
	g := startTestGateway(t, "127.0.0.1:"+nodePort)

	resp, err := http.Get(fmt.Sprintf("http://%s/file/pull/does-not-exist", g.cfg.Listen))
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"] != "no-such-file" {
		t.Fatalf("error body = %v, want kind no-such-file", body)
	}
}

func TestGatewayNetmapGet(t *testing.T) {
	nodePort := freePort(t)
	startTestNode(t, nodePort)
	g := startTestGateway(t, "127.0.0.1:"+nodePort)

	resp, err := http.Get(fmt.Sprintf("http://%s/netmap/get", g.cfg.Listen))
	if err != nil {
		t.Fatalf("netmap/get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding netmap body: %v", err)
	}
	if body[nodePort] != "Alive" {
		t.Fatalf("netmap body = %v, want %s=Alive", body, nodePort)
	}
}

func TestGatewayOptionsCORS(t *testing.T) {
	nodePort := freePort(t)
	startTestNode(t, nodePort)
	g := startTestGateway(t, "127.0.0.1:"+nodePort)

	req, err := http.NewRequest(http.MethodOptions, fmt.Sprintf("http://%s/file/list", g.cfg.Listen), nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestGatewayNodeKillDropsFromRouting(t *testing.T) {
	nodePort := freePort(t)
	startTestNode(t, nodePort)
	g := startTestGateway(t, "127.0.0.1:"+nodePort)

	resp, err := http.Post(fmt.Sprintf("http://%s/node/%s/kill", g.cfg.Listen, nodePort), "application/json", nil)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if _, ok := g.cache.Next(); ok {
		t.Fatalf("cache should have no alive peers left after killing the only one")
	}
}
