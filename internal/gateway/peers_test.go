// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"testing"

	"github.com/hazardous-sun/ouroboros-fs/internal/logging"
)

func TestPeerCacheRoundRobin(t *testing.T) {
	logger, closer := logging.NewLogger("error", "text", "")
	defer closer.Close()

	c := NewPeerCache([]string{"127.0.0.1:7000"}, logger)
	c.setFromNetmap(map[string]bool{"7000": true, "7001": true, "7002": false})

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		port, ok := c.Next()
		if !ok {
			t.Fatalf("Next() returned ok=false with a non-empty cache")
		}
		seen[port]++
	}
	if seen["7002"] != 0 {
		t.Fatalf("Dead port 7002 should never be returned, got %d hits", seen["7002"])
	}
	if seen["7000"] == 0 || seen["7001"] == 0 {
		t.Fatalf("round robin should hit both alive ports, got %v", seen)
	}
}

func TestPeerCacheMarkDead(t *testing.T) {
	logger, closer := logging.NewLogger("error", "text", "")
	defer closer.Close()

	c := NewPeerCache([]string{"127.0.0.1:7000"}, logger)
	c.setFromNetmap(map[string]bool{"7000": true})

	c.MarkDead("7000")
	if _, ok := c.Next(); ok {
		t.Fatalf("Next() should report no alive peers after MarkDead removed the only one")
	}
}
