package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/observability"
	"github.com/nivapay/settlement/internal/service"
)

const reconciliationBatch = 1000

// ReconciliationWorker audits wallet balances against their ledger
// sums on a schedule. One run happens at startup so a fresh deploy
// surfaces pre-existing drift immediately.
type ReconciliationWorker struct {
	svc      *service.ReconciliationService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewReconciliationWorker(svc *service.ReconciliationService) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: 24 * time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval overrides the default daily schedule.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks until the context is canceled or Stop is called.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))

	w.audit(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.audit(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) audit(ctx context.Context) {
	drifting, err := w.svc.Run(ctx, reconciliationBatch)
	switch {
	case err != nil:
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
	case drifting > 0:
		observability.IncrementWorkerRun("reconciliation", "success")
		zap.L().Warn("reconciliation found drifting wallets", zap.Int("count", drifting))
	default:
		observability.IncrementWorkerRun("reconciliation", "success")
	}
}
