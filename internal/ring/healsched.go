// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// HealScheduler fires a ring-wide NODE HEAL on a calendar schedule,
// independent of and in addition to the fixed-interval gossip tick's
// failure-triggered healing.
type HealScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewHealScheduler parses schedule as a standard 5-field cron expression
// and registers healFn to run on each firing. Returns (nil, nil) if
// schedule is empty — the feature is off by default.
func NewHealScheduler(schedule string, logger *slog.Logger, healFn func(ctx context.Context) error) (*HealScheduler, error) {
	if schedule == "" {
		return nil, nil
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	_, err := c.AddFunc(schedule, func() {
		logger.Info("scheduled heal sweep triggered")
		if err := healFn(context.Background()); err != nil {
			logger.Error("scheduled heal sweep failed", "error", err)
			return
		}
		logger.Info("scheduled heal sweep completed")
	})
	if err != nil {
		return nil, fmt.Errorf("registering heal schedule %q: %w", schedule, err)
	}

	return &HealScheduler{cron: c, logger: logger}, nil
}

// Start begins firing the scheduled sweeps.
func (h *HealScheduler) Start() {
	h.logger.Info("heal scheduler started")
	h.cron.Start()
}

// Stop stops the scheduler, waiting for any in-flight sweep to finish or
// ctx to expire.
func (h *HealScheduler) Stop(ctx context.Context) {
	stopCtx := h.cron.Stop()
	select {
	case <-stopCtx.Done():
		h.logger.Info("heal scheduler stopped gracefully")
	case <-ctx.Done():
		h.logger.Warn("heal scheduler stop timed out")
	}
}
