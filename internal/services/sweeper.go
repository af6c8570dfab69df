package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Expirer is the slice of AttemptService the sweeper drives.
type Expirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// DeadlineSweeper force-submits overdue attempts on a fixed interval so no
// attempt depends on a client call to expire.
type DeadlineSweeper struct {
	expirer  Expirer
	interval time.Duration
	batch    int
	timeout  time.Duration
	logger   *slog.Logger
	opLog    *ServiceLogger
}

func NewDeadlineSweeper(expirer Expirer, interval time.Duration, batch int, timeout time.Duration, logger *slog.Logger) *DeadlineSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &DeadlineSweeper{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		timeout:  timeout,
		logger:   logger,
		opLog:    NewServiceLogger(logger, LogConfig{Service: "quiz-attempt-service", Component: "sweeper"}),
	}
}

// Run sweeps until ctx is cancelled.
func (s *DeadlineSweeper) Run(ctx context.Context) error {
	s.logger.Info("Deadline sweeper started", "interval", s.interval.String(), "batch_size", s.batch)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Deadline sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drains overdue attempts one batch at a time.
func (s *DeadlineSweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.sweepOnce(ctx)
		total += n
		if err != nil {
			s.logger.Error("Deadline sweep failed", "expired", n, "error", err)
			break
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("Expired overdue attempts", "count", total)
	}
	return total
}

func (s *DeadlineSweeper) sweepOnce(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opLog.LogRecovery(ctx, "sweep_deadlines", r, debug.Stack())
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.expirer.ExpireOverdue(ctx, s.batch)
}
