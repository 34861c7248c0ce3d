// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestThrottledRelayWriter_NilLimiterBypasses(t *testing.T) {
	var buf bytes.Buffer
	w := throttledRelayWriter(context.Background(), &buf, newRelayLimiter(0))

	if _, ok := w.(*relayWriter); ok {
		t.Fatal("expected original writer (bypass), got relayWriter")
	}

	data := []byte("hello world")
	n, err := w.Write(data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}
	if buf.String() != "hello world" {
		t.Errorf("expected 'hello world', got %q", buf.String())
	}
}

func TestThrottledRelayWriter_NegativeBypasses(t *testing.T) {
	var buf bytes.Buffer
	w := throttledRelayWriter(context.Background(), &buf, newRelayLimiter(-1))

	if _, ok := w.(*relayWriter); ok {
		t.Fatal("expected original writer (bypass), got relayWriter")
	}
}

func TestThrottledRelayWriter_SmallWrites(t *testing.T) {
	var buf bytes.Buffer
	w := throttledRelayWriter(context.Background(), &buf, newRelayLimiter(1*1024*1024))

	data := []byte("small")
	for i := 0; i < 10; i++ {
		_, err := w.Write(data)
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if buf.Len() != 50 {
		t.Errorf("expected 50 bytes written, got %d", buf.Len())
	}
}

func TestThrottledRelayWriter_RespectsBandwidthLimit(t *testing.T) {
	var buf bytes.Buffer

	// limit 100KB/s, burst = min(100KB, relayBurstCap=256KB) = 100KB.
	limit := int64(100 * 1024)
	w := throttledRelayWriter(context.Background(), &buf, newRelayLimiter(limit))

	data := make([]byte, 400*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	start := time.Now()
	n, err := w.Write(data)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}

	// 400KB total: burst covers 100KB, remaining 300KB at 100KB/s ~= 3s.
	minExpected := 2 * time.Second
	if elapsed < minExpected {
		t.Errorf("throttle too fast: wrote %d bytes in %v (limit=%d B/s, expected >= %v)",
			len(data), elapsed, limit, minExpected)
	}

	maxExpected := 8 * time.Second
	if elapsed > maxExpected {
		t.Errorf("throttle too slow: wrote %d bytes in %v (limit=%d B/s, expected <= %v)",
			len(data), elapsed, limit, maxExpected)
	}
}

func TestThrottledRelayWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	w := throttledRelayWriter(ctx, &buf, newRelayLimiter(1024))

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	data := make([]byte, 100*1024)
	_, err := w.Write(data)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// TestRelayLimiterIsSharedAcrossWriters covers the shared-budget behavior
// this limiter exists for: two relayWriters built from the same limiter
// draw from one bucket, so the second writer starts already rate-limited by
// tokens the first one spent, instead of each getting a fresh full-rate
// allowance.
func TestRelayLimiterIsSharedAcrossWriters(t *testing.T) {
	limiter := newRelayLimiter(50 * 1024)

	var bufA, bufB bytes.Buffer
	wA := throttledRelayWriter(context.Background(), &bufA, limiter)
	wB := throttledRelayWriter(context.Background(), &bufB, limiter)

	chunk := make([]byte, 50*1024)
	if _, err := wA.Write(chunk); err != nil {
		t.Fatalf("writer A: %v", err)
	}

	start := time.Now()
	if _, err := wB.Write(chunk); err != nil {
		t.Fatalf("writer B: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("writer B should have waited on A's exhausted bucket, only waited %v", elapsed)
	}
}
