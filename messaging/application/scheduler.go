package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/infrastructure/valkey"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const signalChannel = "scheduler:signal"

// Scheduler promotes due scheduled dispatches to the executor. Promotion is a
// compare-and-swap from scheduled to executing, so a job cancelled at the same
// moment is either cancelled or executed, never both. With Valkey configured,
// ticks across processes are serialized by a lease and any process can wake
// the others.
type Scheduler struct {
	store    job.Store
	executor *Executor
	vk       *valkey.Client
	interval time.Duration
	now      func() time.Time

	c       *cron.Cron
	wake    chan struct{}
	running int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(store job.Store, executor *Executor, vk *valkey.Client, cfg config.DispatchConfig) *Scheduler {
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		vk:       vk,
		interval: interval,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Start runs a tick right away, then every interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	cronLog := cron.PrintfLogger(logrus.StandardLogger())
	s.c = cron.New(cron.WithLogger(cronLog))
	s.c.Schedule(cron.Every(s.interval), cron.NewChain(cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(func() {
		s.runTick(ctx)
	})))
	s.c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				s.runTick(ctx)
			}
		}
	}()

	if s.vk != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.vk.Subscribe(ctx, signalChannel, func(string) {
				logrus.Debug("[SCHEDULER] Wake-up signal received from Valkey")
				s.localWake()
			})
			if err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("[SCHEDULER] Pub/Sub listener failed")
			}
		}()
	}

	logrus.Infof("[SCHEDULER] Started, checking due dispatches every %s", s.interval)
}

func (s *Scheduler) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logrus.Info("[SCHEDULER] Stopped")
}

// Wake asks for an immediate tick, on every process when Valkey is present.
func (s *Scheduler) Wake(ctx context.Context) {
	if s.vk != nil {
		if err := s.vk.Publish(ctx, signalChannel, "tick"); err == nil {
			return
		}
	}
	s.localWake()
}

func (s *Scheduler) localWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("[SCHEDULER] Tick failed")
	}
}

// Tick promotes every due job and returns how many were handed off.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if s.vk != nil {
		lease, err := s.vk.TryLock(ctx, "scheduler:tick", s.interval)
		if err != nil {
			logrus.WithError(err).Warn("[SCHEDULER] Lease unavailable, ticking without it")
		} else if lease == nil {
			logrus.Debug("[SCHEDULER] Another process holds the tick lease")
			return 0, nil
		} else {
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
					logrus.WithError(err).Debug("[SCHEDULER] Lease release failed")
				}
			}()
		}
	}

	due, err := s.store.ListDue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, j := range due {
		ok, err := s.store.CompareAndSwapStatus(ctx, j.ID, job.StatusScheduled, job.StatusExecuting)
		if err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Could not promote job %s", j.ID)
			continue
		}
		if !ok {
			continue
		}

		if err := s.executor.Submit(ctx, j); err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Job %s could not be queued", j.ID)
			continue
		}
		promoted++
		logrus.Infof("[SCHEDULER] Job %s promoted for instance %s", j.ID, j.InstanceID)
	}
	return promoted, nil
}

// Cancel stops a dispatch that has not started yet.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Kind != job.KindScheduled {
		return common.ErrJobNotCancellable
	}

	ok, err := s.store.CompareAndSwapStatus(ctx, id, job.StatusScheduled, job.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrJobNotCancellable
	}

	logrus.Infof("[SCHEDULER] Job %s cancelled", id)
	return nil
}
