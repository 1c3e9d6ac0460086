package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/AzielCF/az-dispatch/pkg/msgworker"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const finishTimeout = 5 * time.Second

// Executor sends a job's message to each recipient in order, one at a time,
// leaving at least SendDelay between the end of one send and the start of
// the next.
type Executor struct {
	store    job.Store
	registry instance.Registry
	provider provider.RemoteProvider
	pool     *msgworker.DispatchWorkerPool
	cfg      config.DispatchConfig
}

func NewExecutor(store job.Store, registry instance.Registry, remote provider.RemoteProvider, pool *msgworker.DispatchWorkerPool, cfg config.DispatchConfig) *Executor {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Executor{
		store:    store,
		registry: registry,
		provider: remote,
		pool:     pool,
		cfg:      cfg,
	}
}

// Submit queues a job on the worker pool. A rejected job is failed right away
// so it never sits in a running status with nobody working on it.
func (e *Executor) Submit(ctx context.Context, j job.Job) error {
	jobID := j.ID
	accepted := e.pool.TryDispatch(msgworker.DispatchJob{
		InstanceID: j.InstanceID,
		JobID:      jobID,
		Handler: func(ctx context.Context) error {
			return e.Execute(ctx, jobID)
		},
	})
	if accepted {
		return nil
	}

	if err := e.store.Finish(ctx, jobID, job.StatusFailed, common.ErrDispatchRejected.Error()); err != nil {
		logrus.WithError(err).Errorf("[EXECUTOR] Could not fail rejected job %s", jobID)
	}
	return common.ErrDispatchRejected
}

// Execute runs a job to a terminal status. Per-recipient failures are counted
// and skipped; a lost connection, a refused credential, a store failure or a
// cancelled ctx stop the job as failed.
func (e *Executor) Execute(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			logrus.Errorf("[EXECUTOR] Panic while running job %s: %v", jobID, r)
			e.fail(ctx, jobID, err.Error())
		}
	}()

	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		logrus.Debugf("[EXECUTOR] Job %s already %s, skipping", jobID, j.Status)
		return nil
	}

	log := logrus.WithFields(logrus.Fields{"job_id": j.ID, "instance_id": j.InstanceID, "kind": j.Kind})

	if !e.instanceConnected(ctx, j.InstanceID) {
		e.fail(ctx, j.ID, common.ErrInstanceNotConnected.Error())
		log.Warn("[EXECUTOR] Instance not connected, job failed without sending")
		return common.ErrInstanceNotConnected
	}

	if j.Kind == job.KindCampaign && j.Status == job.StatusPending {
		ok, err := e.store.CompareAndSwapStatus(ctx, j.ID, job.StatusPending, job.StatusSending)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("[EXECUTOR] Campaign claimed elsewhere, skipping")
			return nil
		}
	} else if j.Status != j.RunningStatus() {
		log.Debugf("[EXECUTOR] Job in status %s is not runnable, skipping", j.Status)
		return nil
	}

	log.Infof("[EXECUTOR] Sending to %d recipient(s)", j.Total())
	pace := newPacer(e.cfg.SendDelay)

	for i := j.SentCount; i < len(j.Recipients); i++ {
		recipient := j.Recipients[i]

		if err := pace.wait(ctx); err != nil {
			e.fail(ctx, j.ID, "interrupted: "+ctxCause(ctx, err))
			return err
		}

		inst, err := e.registry.Get(ctx, j.InstanceID)
		if err != nil || inst.Status != instance.StatusConnected {
			e.fail(ctx, j.ID, common.ErrInstanceNotConnected.Error())
			log.Warnf("[EXECUTOR] Instance disconnected after %d/%d sends", i, j.Total())
			return common.ErrInstanceNotConnected
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		_, sendErr := e.provider.SendMessage(sendCtx, inst.Credential, recipient.Address, j.Message, j.Media)
		cancel()
		pace.sent(time.Now())

		if ctx.Err() != nil {
			e.fail(ctx, j.ID, "interrupted: "+ctxCause(ctx, ctx.Err()))
			return ctx.Err()
		}

		failed := sendErr != nil
		if failed {
			log.WithError(sendErr).Warnf("[EXECUTOR] Send to %s failed", recipient.Address)
		}

		if _, err := e.store.IncrementProgress(ctx, j.ID, failed); err != nil {
			if errors.Is(err, common.ErrJobTerminal) {
				log.Warn("[EXECUTOR] Job finished elsewhere, stopping")
				return nil
			}
			e.fail(ctx, j.ID, "progress store: "+err.Error())
			return err
		}

		if errors.Is(sendErr, common.ErrProviderAuth) {
			e.fail(ctx, j.ID, sendErr.Error())
			log.Error("[EXECUTOR] Provider refused the instance credential, job aborted")
			return sendErr
		}
	}

	if err := e.store.Finish(ctx, j.ID, job.StatusCompleted, ""); err != nil {
		if errors.Is(err, common.ErrJobTerminal) {
			return nil
		}
		return err
	}

	final, err := e.store.Get(ctx, j.ID)
	if err == nil {
		log.Infof("[EXECUTOR] Job completed: %d sent, %d failed", final.SentCount-final.FailedCount, final.FailedCount)
	}
	return nil
}

// pacer holds the next send back until a full gap has passed since the
// previous send returned.
type pacer struct {
	gap     time.Duration
	limiter *rate.Limiter
}

func newPacer(gap time.Duration) *pacer {
	return &pacer{gap: gap}
}

// sent starts a new gap at t. The fresh limiter's only token is spent at t,
// so the next one is available at t+gap.
func (p *pacer) sent(t time.Time) {
	p.limiter = rate.NewLimiter(rate.Every(p.gap), 1)
	p.limiter.AllowN(t, 1)
}

func (p *pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

func (e *Executor) instanceConnected(ctx context.Context, id string) bool {
	inst, err := e.registry.Get(ctx, id)
	return err == nil && inst.Status == instance.StatusConnected
}

// fail records a failure even when ctx is already cancelled.
func (e *Executor) fail(ctx context.Context, jobID, reason string) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := e.store.Finish(finishCtx, jobID, job.StatusFailed, reason); err != nil && !errors.Is(err, common.ErrJobTerminal) {
		logrus.WithError(err).Errorf("[EXECUTOR] Could not mark job %s failed", jobID)
	}
}

func ctxCause(ctx context.Context, err error) string {
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return err.Error()
}
