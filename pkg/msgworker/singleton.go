package msgworker

import (
	"context"
	"sync"

	coreconfig "github.com/AzielCF/az-dispatch/core/config"
	"github.com/sirupsen/logrus"
)

var (
	globalPool     *DispatchWorkerPool
	globalPoolOnce sync.Once
	globalCancel   context.CancelFunc
)

// GetGlobalPool returns the process-wide dispatch pool, sized from
// coreconfig.Global.WorkerPool.
func GetGlobalPool() *DispatchWorkerPool {
	globalPoolOnce.Do(func() {
		var ctx context.Context
		ctx, globalCancel = context.WithCancel(context.Background())

		size, queue := 0, 0
		if coreconfig.Global != nil {
			size = coreconfig.Global.WorkerPool.Size
			queue = coreconfig.Global.WorkerPool.QueueSize
		}

		globalPool = NewDispatchWorkerPool(size, queue)
		globalPool.Start(ctx)
		logrus.Infof("[MSG_WORKER_POOL] Global instance started with %d workers and queue size %d",
			globalPool.numWorkers, globalPool.queueSize)
	})
	return globalPool
}

func StopGlobalPool() {
	if globalCancel != nil {
		globalCancel()
	}
	if globalPool != nil {
		globalPool.Stop()
	}
}

func GetGlobalStats() PoolStats {
	return GetGlobalPool().GetStats()
}
