// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// relayBurstCap bounds the token bucket's burst regardless of the
// configured steady-state rate (256KB).
const relayBurstCap = 256 * 1024

// newRelayLimiter builds the single token bucket a node applies to every
// chunk it relays onward to its successor. Sharing one limiter across
// concurrent FILE PUSH/RELAY-STREAM hops means the configured rate is the
// node's total relay budget, not an allowance handed out fresh per hop —
// two pushes landing on the same node at once split one pipe instead of
// each getting the full configured rate. bytesPerSec <= 0 disables
// throttling (nil limiter).
func newRelayLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst > relayBurstCap {
		burst = relayBurstCap
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// throttledRelayWriter wraps w with limiter, or returns w unchanged if
// limiter is nil (throttling disabled).
func throttledRelayWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &relayWriter{w: w, limiter: limiter, ctx: ctx}
}

// relayWriter paces writes through a shared limiter, splitting writes
// larger than the bucket's burst so tokens drain gradually instead of in
// one large reservation that could starve a sibling relay sharing the same
// limiter.
type relayWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (rw *relayWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > rw.limiter.Burst() {
			chunk = rw.limiter.Burst()
		}
		if err := rw.limiter.WaitN(rw.ctx, chunk); err != nil {
			return total, err
		}
		n, err := rw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
