package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	"github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// errStaleSession aborts a write from a loop whose session was replaced.
var errStaleSession = errors.New("pairing session superseded")

type pairingLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// PairingManager drives instances from disconnected to connected. Each
// instance awaiting confirmation has exactly one poll goroutine; loops share
// nothing but the registry, and every write they make is guarded by the
// session id they were started with.
type PairingManager struct {
	registry instance.Registry
	provider provider.RemoteProvider
	cfg      config.PairingConfig

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu     sync.Mutex
	loops  map[string]*pairingLoop
	locks  map[string]*sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPairingManager(registry instance.Registry, remote provider.RemoteProvider, cfg config.PairingConfig) *PairingManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 3 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PairingManager{
		registry:   registry,
		provider:   remote,
		cfg:        cfg,
		rootCtx:    ctx,
		rootCancel: cancel,
		loops:      make(map[string]*pairingLoop),
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockInstance serializes start, cancel and resume for one instance so two
// callers can never interleave stopping, issuing and launching.
func (m *PairingManager) lockInstance(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// StartPairing requests a fresh token and starts polling for confirmation.
// Calling it while a session is in progress replaces that session.
func (m *PairingManager) StartPairing(ctx context.Context, id string) error {
	unlock := m.lockInstance(id)
	defer unlock()

	inst, err := m.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status == instance.StatusConnected {
		return common.ErrAlreadyConnected
	}

	m.stopLoop(id)

	session, err := m.issueToken(ctx, inst, func(current instance.Instance) error {
		if current.Status == instance.StatusConnected {
			return common.ErrAlreadyConnected
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.launch(id, inst.Name, session)
	logrus.Infof("[PAIRING] Started pairing for instance %s (%s)", inst.Name, id)
	return nil
}

// CancelPairing stops any poll loop and leaves the instance disconnected. When
// the instance was connected the provider is asked to drop the device.
func (m *PairingManager) CancelPairing(ctx context.Context, id string) error {
	unlock := m.lockInstance(id)
	defer unlock()

	m.stopLoop(id)

	var previous instance.Status
	inst, err := m.registry.Update(ctx, id, func(inst *instance.Instance) error {
		previous = inst.Status
		inst.ResetPairing()
		return nil
	})
	if err != nil {
		return err
	}

	if previous == instance.StatusConnected {
		if err := m.provider.Disconnect(ctx, inst.Name, inst.Credential); err != nil {
			logrus.WithError(err).Warnf("[PAIRING] Provider disconnect failed for %s", inst.Name)
		}
	}

	logrus.Infof("[PAIRING] Pairing cancelled for instance %s (was %s)", inst.Name, previous)
	return nil
}

// Resume restarts polling for every instance left awaiting confirmation.
// Tokens are kept and retry counters start over.
func (m *PairingManager) Resume(ctx context.Context) (int, error) {
	pending, err := m.registry.ListByStatus(ctx, instance.StatusAwaitingConfirmation)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, inst := range pending {
		if m.resume(ctx, inst) {
			resumed++
		}
	}

	if resumed > 0 {
		logrus.Infof("[PAIRING] Resumed %d pending pairing session(s)", resumed)
	}
	return resumed, nil
}

func (m *PairingManager) resume(ctx context.Context, inst instance.Instance) bool {
	unlock := m.lockInstance(inst.ID)
	defer unlock()

	session := uuid.NewString()
	_, err := m.registry.Update(ctx, inst.ID, func(current *instance.Instance) error {
		if current.Status != instance.StatusAwaitingConfirmation {
			return errStaleSession
		}
		current.RetryCount = 0
		current.PairingSession = session
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStaleSession) {
			logrus.WithError(err).Warnf("[PAIRING] Could not resume instance %s", inst.ID)
		}
		return false
	}

	m.launch(inst.ID, inst.Name, session)
	return true
}

// IsPolling reports whether a poll loop is running for the instance.
func (m *PairingManager) IsPolling(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// Shutdown cancels all loops and waits for them to exit.
func (m *PairingManager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.rootCancel()
	m.wg.Wait()

	m.mu.Lock()
	m.loops = make(map[string]*pairingLoop)
	m.mu.Unlock()
	logrus.Info("[PAIRING] All pairing loops stopped")
}

// issueToken asks the provider for a token and stores it under a new session.
// check runs inside the registry update and may veto the write.
func (m *PairingManager) issueToken(ctx context.Context, inst instance.Instance, check func(instance.Instance) error) (string, error) {
	token, err := m.provider.RequestPairingToken(ctx, inst.Name, inst.Credential)
	if err == nil && token == "" {
		err = errors.New("empty pairing token")
	}
	if err != nil {
		_, uerr := m.registry.Update(ctx, inst.ID, func(current *instance.Instance) error {
			if current.Status == instance.StatusConnected {
				return common.ErrAlreadyConnected
			}
			current.ResetPairing()
			return nil
		})
		if uerr != nil && !errors.Is(uerr, common.ErrAlreadyConnected) {
			logrus.WithError(uerr).Warnf("[PAIRING] Could not reset instance %s", inst.ID)
		}
		if errors.Is(err, common.ErrProviderUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}

	session := uuid.NewString()
	_, err = m.registry.Update(ctx, inst.ID, func(current *instance.Instance) error {
		if err := check(*current); err != nil {
			return err
		}
		current.Status = instance.StatusAwaitingConfirmation
		current.PairingToken = token
		current.PairingSession = session
		current.RetryCount = 0
		return nil
	})
	if err != nil {
		return "", err
	}
	return session, nil
}

func (m *PairingManager) launch(id, name, session string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if old, ok := m.loops[id]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(m.rootCtx)
	l := &pairingLoop{cancel: cancel, done: make(chan struct{})}
	m.loops[id] = l

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(l.done)
		defer m.forget(id, l)
		m.poll(ctx, id, name, session)
	}()
}

func (m *PairingManager) forget(id string, l *pairingLoop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loops[id] == l {
		delete(m.loops, id)
	}
	l.cancel()
}

func (m *PairingManager) stopLoop(id string) {
	m.mu.Lock()
	l, ok := m.loops[id]
	delete(m.loops, id)
	m.mu.Unlock()

	if ok {
		l.cancel()
		<-l.done
	}
}

func (m *PairingManager) poll(ctx context.Context, id, name, session string) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	log := logrus.WithFields(logrus.Fields{"instance": name, "instance_id": id})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ctx.Err() != nil {
			return
		}
		outcome := m.check(ctx, name)
		if ctx.Err() != nil {
			return
		}

		switch outcome {
		case provider.PairingConfirmed:
			if err := m.confirm(ctx, id, session); err != nil {
				if !errors.Is(err, errStaleSession) {
					log.WithError(err).Error("[PAIRING] Could not store confirmation")
				}
				return
			}
			log.Info("[PAIRING] Device confirmed, instance connected")
			return

		case provider.PairingRejected:
			exhausted, err := m.reject(ctx, id, session)
			if err != nil {
				if !errors.Is(err, errStaleSession) {
					log.WithError(err).Error("[PAIRING] Could not record rejection")
				}
				return
			}
			if !exhausted {
				continue
			}

			log.Warnf("[PAIRING] Confirmation rejected %d times, requesting a new token", m.cfg.MaxRetries)
			next, err := m.restart(ctx, id)
			if err != nil {
				if !errors.Is(err, errStaleSession) && ctx.Err() == nil {
					log.WithError(err).Error("[PAIRING] Automatic restart failed, instance left disconnected")
				}
				return
			}
			session = next
			ticker.Reset(m.cfg.PollInterval)

		default:
			log.Debug("[PAIRING] Confirmation indeterminate, will retry")
		}
	}
}

// check asks the provider once, bounded by CheckTimeout even if the provider
// ignores its context.
func (m *PairingManager) check(ctx context.Context, name string) provider.PairingOutcome {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	result := make(chan provider.PairingOutcome, 1)
	go func() {
		result <- m.provider.CheckPairingConfirmation(checkCtx, name)
	}()

	select {
	case outcome := <-result:
		switch outcome {
		case provider.PairingConfirmed, provider.PairingRejected:
			if checkCtx.Err() != nil {
				return provider.PairingIndeterminate
			}
			return outcome
		default:
			return provider.PairingIndeterminate
		}
	case <-checkCtx.Done():
		return provider.PairingIndeterminate
	}
}

func (m *PairingManager) confirm(ctx context.Context, id, session string) error {
	_, err := m.registry.Update(ctx, id, func(inst *instance.Instance) error {
		if inst.Status != instance.StatusAwaitingConfirmation || inst.PairingSession != session {
			return errStaleSession
		}
		inst.Status = instance.StatusConnected
		inst.PairingToken = ""
		inst.PairingSession = ""
		inst.RetryCount = 0
		return nil
	})
	return err
}

// reject records a rejection and reports whether retries are exhausted, in
// which case the instance has been reset to disconnected.
func (m *PairingManager) reject(ctx context.Context, id, session string) (bool, error) {
	exhausted := false
	_, err := m.registry.Update(ctx, id, func(inst *instance.Instance) error {
		if inst.Status != instance.StatusAwaitingConfirmation || inst.PairingSession != session {
			return errStaleSession
		}
		inst.RetryCount++
		if inst.RetryCount >= m.cfg.MaxRetries {
			inst.ResetPairing()
			exhausted = true
		}
		return nil
	})
	return exhausted, err
}

// restart issues a new token after exhausted retries. It only proceeds while
// nobody else has touched the instance since the reset.
func (m *PairingManager) restart(ctx context.Context, id string) (string, error) {
	inst, err := m.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if inst.Status != instance.StatusDisconnected || inst.PairingSession != "" {
		return "", errStaleSession
	}

	return m.issueToken(ctx, inst, func(current instance.Instance) error {
		if current.Status != instance.StatusDisconnected || current.PairingSession != "" {
			return errStaleSession
		}
		return nil
	})
}
