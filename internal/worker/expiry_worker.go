package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/observability"
	"github.com/nivapay/settlement/internal/service"
)

// ExpiryWorker fails PENDING deposits whose payment window has passed.
// Expiry goes through the same settlement path as callbacks, so a late
// callback racing the sweep cannot double-settle.
type ExpiryWorker struct {
	deposits     *service.DepositService
	lifetime     time.Duration
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewExpiryWorker(deposits *service.DepositService, lifetime time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		deposits:     deposits,
		lifetime:     lifetime,
		pollInterval: time.Minute,
		batchSize:    100,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the sweep interval.
func (w *ExpiryWorker) WithPollInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize caps how many deposits a single sweep touches.
func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Duration("lifetime", w.lifetime))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stop signal received")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ExpiryWorker) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-w.lifetime)
	expired, err := w.deposits.ExpireStale(ctx, cutoff, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "success")
	if expired > 0 {
		zap.L().Info("expired stale deposits", zap.Int("count", expired))
	}
}
