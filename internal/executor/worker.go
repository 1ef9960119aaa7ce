package executor

import (
	"context"

	"github.com/vk/monorelease/internal/ctxlog"
)

// worker is the processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range readyChan {
		workerLogger := logger.With("workerID", workerID, "task", n.name)

		if ctx.Err() != nil {
			if n.skip(ctx.Err(), &e.wg) {
				workerLogger.Warn("Run canceled, skipping task.")
				e.skipDependents(ctx, n)
			}
			continue
		}
		if !n.state.CompareAndSwap(int32(Pending), int32(Running)) {
			continue
		}

		workerLogger.Debug("Worker picked up task.")
		err := e.run(ctxlog.WithLogger(ctx, workerLogger), n.name)
		if err != nil {
			workerLogger.Error("Task failed.", "error", err)
			cancel()
			n.finish(err, &e.wg)
			e.skipDependents(ctx, n)
			continue
		}

		workerLogger.Debug("Task succeeded.")
		for _, dependent := range n.dependents {
			if dependent.depCount.Add(-1) == 0 {
				workerLogger.Debug("Unlocking dependent task.", "dependent", dependent.name)
				readyChan <- dependent
			}
		}
		n.finish(nil, &e.wg)
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}
