// Package dispatcher delivers committed outbox instructions to the escrow
// host and records the delivery outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/internal/metrics"
	"github.com/chainsafe/icco-contributor/pkg/contributor"
)

// Executor performs a single instruction. Returning a backoff.Permanent error
// stops further attempts.
//
//go:generate mockery --name Executor --output mocks --outpkg mocks --filename mock_executor.go --with-expecter
type Executor interface {
	Execute(ctx context.Context, in *contributor.Instruction) error
}

// Config controls polling and retries.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// InitialInterval is the first retry delay; it grows exponentially.
	InitialInterval time.Duration
}

// Dispatcher polls the instruction outbox and hands pending instructions to
// an Executor.
type Dispatcher struct {
	store    contributor.InstructionStore
	executor Executor
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(store contributor.InstructionStore, executor Executor, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &Dispatcher{
		store:    store,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting instruction dispatcher",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("max_attempts", d.cfg.MaxAttempts),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			metrics.ErrorsTotal.WithLabelValues("dispatcher", "poll").Inc()
			d.logger.Error("Failed to dispatch pending instructions", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Instruction dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchPending delivers one batch of pending instructions in creation
// order and returns how many were delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.store.ListPendingInstructions(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending instructions: %w", err)
	}
	metrics.PendingInstructions.Set(float64(len(pending)))

	delivered := 0
	for _, in := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		ok, err := d.dispatch(ctx, in)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, in *contributor.Instruction) (bool, error) {
	attempts := in.Attempts
	op := func() error {
		attempts++
		return d.executor.Execute(ctx, in)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval
	policy.MaxElapsedTime = 0

	execErr := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.MaxAttempts-1)), ctx),
		func(err error, next time.Duration) {
			d.logger.Warn("Instruction delivery failed, retrying",
				zap.String("instruction_id", in.ID.String()),
				zap.String("kind", string(in.Kind)),
				zap.Duration("next", next),
				zap.Error(err),
			)
		},
	)

	if execErr != nil && ctx.Err() != nil {
		// Leave the instruction pending for the next run.
		return false, ctx.Err()
	}

	status := contributor.InstructionStatusDispatched
	lastErr := ""
	if execErr != nil {
		status = contributor.InstructionStatusFailed
		lastErr = execErr.Error()
	}
	metrics.InstructionsDispatched.WithLabelValues(string(in.Kind), string(status)).Inc()

	// The delivery already happened; record it even if shutdown has begun.
	if err := d.store.UpdateInstructionStatus(context.WithoutCancel(ctx), in.ID, status, attempts, lastErr); err != nil {
		return false, fmt.Errorf("failed to update instruction %s: %w", in.ID, err)
	}

	if execErr != nil {
		d.logger.Error("Instruction delivery failed",
			zap.String("instruction_id", in.ID.String()),
			zap.String("kind", string(in.Kind)),
			zap.String("sale_id", in.SaleID.String()),
			zap.Int("attempts", attempts),
			zap.Error(execErr),
		)
		return false, nil
	}

	d.logger.Info("Instruction dispatched",
		zap.String("instruction_id", in.ID.String()),
		zap.String("kind", string(in.Kind)),
		zap.String("sale_id", in.SaleID.String()),
		zap.Int("attempts", attempts),
	)
	return true, nil
}
