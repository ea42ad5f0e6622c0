package retention

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	prometheusKuiil "git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/prometheus"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const redispatchBatchSize = 100

// Dispatcher emits the downstream task for an ended call.
type Dispatcher interface {
	Dispatch(ctx context.Context, callID string) error
}

// RetentionWorker periodically removes terminal call records older than
// the configured retention window, and re-dispatches calls left in ENDED
// without a claimed task.
type RetentionWorker struct {
	WorkerPool *ants.Pool
	Records    call.RecordStore
	Dispatcher Dispatcher
}

func NewWorker(records call.RecordStore, dispatcher Dispatcher) (*RetentionWorker, error) {
	workerPool, err := ants.NewPool(config.Conf.RetentionPoolSize, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	return &RetentionWorker{
		WorkerPool: workerPool,
		Records:    records,
		Dispatcher: dispatcher,
	}, nil
}

func (worker *RetentionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.Conf.RetentionPurgeMinutes) * time.Minute)
	defer ticker.Stop()

	redispatchTicker := time.NewTicker(time.Duration(config.Conf.RedispatchAfterMinutes) * time.Minute)
	defer redispatchTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			worker.submit(ctx, worker.purge)
		case <-redispatchTicker.C:
			worker.submit(ctx, worker.redispatch)
		}
	}
}

func (worker *RetentionWorker) submit(ctx context.Context, job func(context.Context)) {
	err := worker.WorkerPool.Submit(func() {
		job(ctx)
	})
	if err != nil {
		logging.Logger.Error("failed to submit retention job",
			zap.String("error", err.Error()),
		)
	}
}

func (worker *RetentionWorker) purge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -config.Conf.RetentionDays)

	purged, err := worker.Records.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		logging.Logger.Error("retention purge failed", zap.String("error", err.Error()))
		return
	}

	if purged == 0 {
		logging.Logger.Debug("no call records past retention")
		return
	}

	prometheusKuiil.CallRecordsPurgedTotal.Add(float64(purged))

	logging.Logger.Info("purged call records past retention",
		zap.Int64("count", purged),
		zap.Time("cutoff", cutoff),
	)
}

// redispatch sweeps up ENDED calls whose dispatch never happened, like
// when the worker pool was overloaded at END time. The dispatch claim
// keeps the sweep idempotent against concurrent duplicate deliveries.
func (worker *RetentionWorker) redispatch(ctx context.Context) {
	olderThan := time.Now().Add(-time.Duration(config.Conf.RedispatchAfterMinutes) * time.Minute)

	callIDs, err := worker.Records.StalledEnded(ctx, olderThan, redispatchBatchSize)
	if err != nil {
		logging.Logger.Error("redispatch sweep failed", zap.String("error", err.Error()))
		return
	}

	if len(callIDs) == 0 {
		return
	}

	logging.Logger.Info("re-dispatching stalled calls", zap.Int("count", len(callIDs)))

	for _, callID := range callIDs {
		err := worker.Dispatcher.Dispatch(ctx, callID)
		if err != nil {
			logging.Logger.Error("re-dispatch failed",
				zap.String("call_id", callID),
				zap.String("error", err.Error()),
			)
		}
	}
}
