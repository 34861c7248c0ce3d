// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import "testing"

func TestChunkLenSumsToSize(t *testing.T) {
	cases := []struct {
		size  uint64
		parts uint32
	}{
		{0, 5}, {1, 1}, {5, 1}, {7, 3}, {10, 3}, {100, 11}, {7*11 + 3, 11},
	}
	for _, c := range cases {
		var sum uint64
		for i := uint32(0); i < c.parts; i++ {
			l := chunkLen(c.size, c.parts, i)
			base := c.size / uint64(c.parts)
			if l != base && l != base+1 {
				t.Fatalf("size=%d parts=%d i=%d: chunkLen=%d differs from base %d by more than 1", c.size, c.parts, i, l, base)
			}
			sum += l
		}
		if sum != c.size {
			t.Fatalf("size=%d parts=%d: sum of chunk lengths = %d, want %d", c.size, c.parts, sum, c.size)
		}
	}
}

func TestChunkLenRemainderGoesToFirstChunks(t *testing.T) {
	want := []uint64{4, 3, 3}
	for i, w := range want {
		if got := chunkLen(10, 3, uint32(i)); got != w {
			t.Errorf("chunkLen(10,3,%d) = %d, want %d", i, got, w)
		}
	}
}

func TestTailLenMatchesSumOfLaterChunks(t *testing.T) {
	// size=10, parts=3 -> chunks 4,3,3 (0-based indices 0,1,2).
	cases := []struct {
		idx  uint32 // 1-based current chunk index, as passed by ingestAndRelay
		want uint64 // bytes still owed to the stream after this chunk is consumed
	}{
		{1, 6}, // entry hop: 4 consumed, 3+3 remain
		{2, 3}, // second hop: 4+3 consumed, 3 remains
		{3, 0}, // last hop: nothing left to relay
	}
	for _, c := range cases {
		if got := tailLen(10, 3, c.idx); got != c.want {
			t.Errorf("tailLen(10,3,%d) = %d, want %d", c.idx, got, c.want)
		}
	}
}

func TestPredecessorOf(t *testing.T) {
	topology := map[string]string{"7000": "7001", "7001": "7002", "7002": "7000"}

	pred, ok := predecessorOf(topology, "7001")
	if !ok || pred != "7000" {
		t.Fatalf("predecessorOf(7001) = (%q, %v), want (7000, true)", pred, ok)
	}

	if _, ok := predecessorOf(topology, "9999"); ok {
		t.Fatalf("predecessorOf(9999) should be unknown")
	}
}
