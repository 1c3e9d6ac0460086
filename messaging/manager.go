package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/infrastructure/valkey"
	"github.com/AzielCF/az-dispatch/messaging/application"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/AzielCF/az-dispatch/pkg/msgworker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const interruptedByRestart = "interrupted by restart"

// DispatchRequest describes the message a campaign or scheduled dispatch sends.
type DispatchRequest struct {
	InstanceID string
	Message    string
	Recipients []job.Recipient
	Media      *job.Media
}

// Manager is the entry point for instance and dispatch operations. It owns the
// pairing manager, the executor and the scheduler, and wires them to the
// registry, the job store and the remote provider.
type Manager struct {
	cfg      *config.Config
	registry instance.Registry
	store    job.Store
	provider provider.RemoteProvider
	pool     *msgworker.DispatchWorkerPool

	pairing   *application.PairingManager
	executor  *application.Executor
	scheduler *application.Scheduler

	// shared is set when other processes may run dispatches against the
	// same store.
	shared bool

	wakeMu  sync.Mutex
	wakes   map[*time.Timer]struct{}
	stopped bool

	now func() time.Time
}

// NewManager builds the components. vk may be nil.
func NewManager(
	cfg *config.Config,
	registry instance.Registry,
	store job.Store,
	remote provider.RemoteProvider,
	pool *msgworker.DispatchWorkerPool,
	vk *valkey.Client,
) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: registry,
		store:    store,
		provider: remote,
		pool:     pool,
		shared:   vk != nil,
		wakes:    make(map[*time.Timer]struct{}),
		now:      time.Now,
	}

	m.pairing = application.NewPairingManager(registry, remote, cfg.Pairing)
	m.executor = application.NewExecutor(store, registry, remote, pool, cfg.Dispatch)
	m.scheduler = application.NewScheduler(store, m.executor, vk, cfg.Dispatch)

	return m
}

// Start recovers state left by a previous run and starts the scheduler.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Recover(ctx); err != nil {
		return err
	}
	m.scheduler.Start(ctx)
	return nil
}

// Stop halts the scheduler and every pairing loop. The worker pool belongs
// to the caller.
func (m *Manager) Stop() {
	m.wakeMu.Lock()
	m.stopped = true
	for t := range m.wakes {
		t.Stop()
	}
	m.wakes = make(map[*time.Timer]struct{})
	m.wakeMu.Unlock()

	m.scheduler.Stop()
	m.pairing.Shutdown()
}

// Recover fails jobs that were mid-send when the process died, requeues
// campaigns that never started and resumes pending pairing sessions.
// Overdue scheduled dispatches are left for the scheduler's first tick.
// In shared mode running jobs may belong to a live peer and are left alone.
func (m *Manager) Recover(ctx context.Context) error {
	statuses := []job.Status{job.StatusSending, job.StatusExecuting}
	if m.shared {
		statuses = nil
	}
	for _, status := range statuses {
		jobs, err := m.store.List(ctx, job.Filter{Status: status})
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, j := range jobs {
			if err := m.store.Finish(ctx, j.ID, job.StatusFailed, interruptedByRestart); err != nil && !errors.Is(err, common.ErrJobTerminal) {
				return fmt.Errorf("fail interrupted job %s: %w", j.ID, err)
			}
			logrus.Warnf("[MANAGER] Job %s marked failed: %s at %d/%d", j.ID, interruptedByRestart, j.SentCount, j.Total())
		}
	}

	pending, err := m.store.List(ctx, job.Filter{Kind: job.KindCampaign, Status: job.StatusPending})
	if err != nil {
		return fmt.Errorf("list pending campaigns: %w", err)
	}
	for _, j := range pending {
		if err := m.executor.Submit(ctx, j); err != nil {
			logrus.WithError(err).Errorf("[MANAGER] Could not requeue campaign %s", j.ID)
		}
	}

	if _, err := m.pairing.Resume(ctx); err != nil {
		return fmt.Errorf("resume pairing: %w", err)
	}
	return nil
}

// --- Instances ---

// CreateInstance registers a new channel. With credential verification
// enabled the provider is asked first; an already open session is stored as
// connected. Otherwise, with CreateRemote set, the provider creates the
// remote instance and the local record is dropped again if that fails.
func (m *Manager) CreateInstance(ctx context.Context, name, credential string) (string, error) {
	name = strings.TrimSpace(name)
	credential = strings.TrimSpace(credential)

	inst := instance.Instance{
		ID:         uuid.NewString(),
		Name:       name,
		Credential: credential,
		Status:     instance.StatusDisconnected,
	}

	if m.cfg.Provider.VerifyOnCreate {
		state, err := m.provider.VerifyCredential(ctx, name, credential)
		if err != nil {
			return "", err
		}
		switch state {
		case provider.ConnectionInvalid:
			return "", common.ErrInvalidCredential
		case provider.ConnectionOpen:
			inst.Status = instance.StatusConnected
		}
	}

	if err := m.registry.Create(ctx, inst); err != nil {
		return "", err
	}

	if m.cfg.Provider.CreateRemote && inst.Status != instance.StatusConnected {
		if err := m.provider.CreateRemoteInstance(ctx, inst.Name); err != nil {
			if derr := m.registry.Delete(context.WithoutCancel(ctx), inst.ID); derr != nil {
				logrus.WithError(derr).Errorf("[MANAGER] Could not roll back instance %s", inst.ID)
			}
			logrus.WithError(err).Warnf("[MANAGER] Provider could not create instance %s", inst.Name)
			return "", err
		}
	}

	logrus.Infof("[MANAGER] Instance %s created (%s, %s)", inst.Name, inst.ID, inst.Status)
	return inst.ID, nil
}

func (m *Manager) GetInstance(ctx context.Context, id string) (instance.Instance, error) {
	return m.registry.Get(ctx, id)
}

func (m *Manager) GetInstanceStatus(ctx context.Context, id string) (instance.Status, error) {
	inst, err := m.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return inst.Status, nil
}

func (m *Manager) ListInstances(ctx context.Context) ([]instance.Instance, error) {
	return m.registry.List(ctx)
}

// RemoveInstance stops pairing, drops the device on the provider side and
// deletes the record. Removing an unknown instance is not an error.
func (m *Manager) RemoveInstance(ctx context.Context, id string) error {
	if _, err := m.registry.Get(ctx, id); err != nil {
		if errors.Is(err, common.ErrInstanceNotFound) {
			return nil
		}
		return err
	}

	if err := m.pairing.CancelPairing(ctx, id); err != nil && !errors.Is(err, common.ErrInstanceNotFound) {
		logrus.WithError(err).Warnf("[MANAGER] Could not cancel pairing for %s", id)
	}
	return m.registry.Delete(ctx, id)
}

// StartPairing returns the instance with its fresh pairing token.
func (m *Manager) StartPairing(ctx context.Context, id string) (instance.Instance, error) {
	if err := m.pairing.StartPairing(ctx, id); err != nil {
		return instance.Instance{}, err
	}
	return m.registry.Get(ctx, id)
}

func (m *Manager) CancelPairing(ctx context.Context, id string) error {
	return m.pairing.CancelPairing(ctx, id)
}

// --- Dispatch ---

// CreateCampaign stores a campaign and queues it right away. Nothing is
// stored when the instance is not connected.
func (m *Manager) CreateCampaign(ctx context.Context, req DispatchRequest) (string, error) {
	if len(req.Recipients) == 0 {
		return "", common.ErrNoRecipients
	}

	inst, err := m.registry.Get(ctx, req.InstanceID)
	if err != nil {
		return "", err
	}
	if inst.Status != instance.StatusConnected {
		return "", common.ErrInstanceNotConnected
	}

	j := m.newJob(job.KindCampaign, req)
	if err := m.store.Create(ctx, j); err != nil {
		return "", err
	}

	if err := m.executor.Submit(ctx, j); err != nil {
		return j.ID, err
	}

	logrus.Infof("[MANAGER] Campaign %s queued for %s with %d recipient(s)", j.ID, inst.Name, j.Total())
	return j.ID, nil
}

// ScheduleDispatch stores a dispatch for a future instant. The instance is
// only required to exist now; it must be connected when the dispatch runs.
func (m *Manager) ScheduleDispatch(ctx context.Context, req DispatchRequest, scheduledAt time.Time) (string, error) {
	now := m.now()
	if !scheduledAt.After(now) {
		return "", common.ErrInvalidSchedule
	}
	if len(req.Recipients) == 0 {
		return "", common.ErrNoRecipients
	}
	if _, err := m.registry.Get(ctx, req.InstanceID); err != nil {
		return "", err
	}

	j := m.newJob(job.KindScheduled, req)
	at := scheduledAt.UTC()
	j.ScheduledAt = &at
	if err := m.store.Create(ctx, j); err != nil {
		return "", err
	}

	// Dispatches due before the next regular tick get a dedicated wake-up.
	if wait := scheduledAt.Sub(now); wait < m.cfg.Dispatch.SchedulerInterval {
		m.wakeAfter(wait)
	}

	logrus.Infof("[MANAGER] Dispatch %s scheduled for %s", j.ID, at.Format(time.RFC3339))
	return j.ID, nil
}

// wakeAfter arms a one-shot scheduler wake-up that Stop disarms.
func (m *Manager) wakeAfter(wait time.Duration) {
	m.wakeMu.Lock()
	defer m.wakeMu.Unlock()
	if m.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(wait, func() {
		m.wakeMu.Lock()
		_, armed := m.wakes[t]
		delete(m.wakes, t)
		m.wakeMu.Unlock()

		if armed {
			m.scheduler.Wake(context.Background())
		}
	})
	m.wakes[t] = struct{}{}
}

func (m *Manager) CancelScheduledDispatch(ctx context.Context, id string) error {
	return m.scheduler.Cancel(ctx, id)
}

func (m *Manager) GetJob(ctx context.Context, id string) (job.Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) GetJobStatus(ctx context.Context, id string) (job.Progress, error) {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return job.Progress{}, err
	}
	return j.Progress(), nil
}

func (m *Manager) ListJobs(ctx context.Context, filter job.Filter) ([]job.Job, error) {
	return m.store.List(ctx, filter)
}

// TriggerScheduler runs one scheduler pass immediately.
func (m *Manager) TriggerScheduler(ctx context.Context) (int, error) {
	return m.scheduler.Tick(ctx)
}

func (m *Manager) PoolStats() msgworker.PoolStats {
	return m.pool.GetStats()
}

func (m *Manager) newJob(kind job.Kind, req DispatchRequest) job.Job {
	j := job.Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		InstanceID: req.InstanceID,
		Message:    req.Message,
		Media:      req.Media,
		Recipients: append([]job.Recipient(nil), req.Recipients...),
	}
	j.Status = j.InitialStatus()
	return j
}
