package msgworker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DispatchJob is one unit of work for the pool: usually a full campaign run
// for a single instance.
type DispatchJob struct {
	InstanceID string
	JobID      string
	Handler    func(ctx context.Context) error
}

func (j DispatchJob) key() string {
	return j.InstanceID + "|" + j.JobID
}

type PoolStats struct {
	NumWorkers      int            `json:"num_workers"`
	QueueSize       int            `json:"queue_size"`
	QueueDepth      int            `json:"queue_depth"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalDispatched int64          `json:"total_dispatched"`
	TotalProcessed  int64          `json:"total_processed"`
	TotalDropped    int64          `json:"total_dropped"`
	TotalErrors     int64          `json:"total_errors"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	WorkerStats     []WorkerStats  `json:"worker_stats"`
	ActiveJobs      map[string]int `json:"active_jobs"` // instanceID|jobID -> worker_id
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

// DispatchWorkerPool runs dispatch jobs on a fixed set of workers fed by one
// shared queue. Any idle worker takes the next job, so a long campaign only
// occupies its own worker and never delays jobs queued behind it while other
// workers are free.
type DispatchWorkerPool struct {
	numWorkers int
	queueSize  int
	jobQueue   chan DispatchJob
	workers    []*worker
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32
	started    int32

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	activeJobsMu    sync.RWMutex
	activeJobs      map[string]int
	startTime       time.Time

	OnJobStart func(workerID int, jobKey string)
	OnJobEnd   func(workerID int, jobKey string)
}

type worker struct {
	id            int
	ctx           context.Context
	isProcessing  int32
	jobsProcessed int64
	pool          *DispatchWorkerPool
}

func NewDispatchWorkerPool(numWorkers, queueSize int) *DispatchWorkerPool {
	if numWorkers <= 0 {
		numWorkers = 8
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	return &DispatchWorkerPool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		jobQueue:   make(chan DispatchJob, queueSize),
		workers:    make([]*worker, numWorkers),
		activeJobs: make(map[string]int),
		startTime:  time.Now(),
	}
}

// Start launches the workers. Cancelling ctx interrupts running handlers.
func (p *DispatchWorkerPool) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.numWorkers; i++ {
		w := &worker{
			id:   i,
			ctx:  poolCtx,
			pool: p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[MSG_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch queues job without blocking and reports whether it was accepted.
func (p *DispatchWorkerPool) TryDispatch(job DispatchJob) bool {
	if atomic.LoadInt32(&p.stopped) == 1 || atomic.LoadInt32(&p.started) == 0 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	atomic.AddInt64(&p.totalDispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.jobQueue <- job:
			return true
		default:
			return false
		}
	}()

	if sent {
		return true
	}

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[MSG_WORKER_POOL] Queue full (or stopped), dropping job %s", job.key())
	return false
}

// Stop cancels running handlers, drains queued jobs and waits for workers.
func (p *DispatchWorkerPool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		if atomic.LoadInt32(&p.started) == 0 {
			return
		}
		logrus.Info("[MSG_WORKER_POOL] Stopping workers...")

		p.cancel()
		close(p.jobQueue)
		p.wg.Wait()

		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

func (p *DispatchWorkerPool) GetStats() PoolStats {
	workerStats := make([]WorkerStats, 0, len(p.workers))
	activeWorkers := 0

	for _, w := range p.workers {
		if w == nil {
			continue
		}
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}
		workerStats = append(workerStats, WorkerStats{
			WorkerID:      w.id,
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		})
	}

	p.activeJobsMu.RLock()
	active := make(map[string]int, len(p.activeJobs))
	for k, v := range p.activeJobs {
		active[k] = v
	}
	p.activeJobsMu.RUnlock()

	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		QueueDepth:      len(p.jobQueue),
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		UptimeSeconds:   int64(time.Since(p.startTime).Seconds()),
		WorkerStats:     workerStats,
		ActiveJobs:      active,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	logrus.Debugf("[MSG_WORKER_POOL] Worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.pool.jobQueue:
			if !ok {
				logrus.Debugf("[MSG_WORKER_POOL] Worker %d shutting down", w.id)
				return
			}
			w.process(job)

		case <-w.ctx.Done():
			logrus.Debugf("[MSG_WORKER_POOL] Worker %d context cancelled, draining queue...", w.id)
			w.drainQueue()
			return
		}
	}
}

// process runs one handler, recovering panics so a bad job cannot kill the worker.
func (w *worker) process(job DispatchJob) {
	jobKey := job.key()
	p := w.pool

	p.activeJobsMu.Lock()
	p.activeJobs[jobKey] = w.id
	p.activeJobsMu.Unlock()

	if p.OnJobStart != nil {
		p.OnJobStart(w.id, jobKey)
	}
	atomic.StoreInt32(&w.isProcessing, 1)

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.totalErrors, 1)
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic for %s: %v", w.id, jobKey, r)
		}
		p.activeJobsMu.Lock()
		delete(p.activeJobs, jobKey)
		p.activeJobsMu.Unlock()

		if p.OnJobEnd != nil {
			p.OnJobEnd(w.id, jobKey)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&p.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		logrus.WithError(err).Errorf("[MSG_WORKER_POOL] Worker %d job %s failed", w.id, jobKey)
	}
}

// drainQueue hands every queued job its (cancelled) context so each one can
// record that it was interrupted.
func (w *worker) drainQueue() {
	for {
		select {
		case job, ok := <-w.pool.jobQueue:
			if !ok {
				return
			}
			w.process(job)
		default:
			return
		}
	}
}
