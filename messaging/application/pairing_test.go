package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	"github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/AzielCF/az-dispatch/messaging/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testPairingConfig = config.PairingConfig{
	PollInterval: 10 * time.Millisecond,
	CheckTimeout: 50 * time.Millisecond,
	MaxRetries:   3,
}

func newPairingFixture(t *testing.T) (*PairingManager, *repository.MemoryInstanceRegistry, *fakeProvider) {
	t.Helper()

	reg := repository.NewMemoryInstanceRegistry()
	fp := newFakeProvider()
	pm := NewPairingManager(reg, fp, testPairingConfig)
	t.Cleanup(pm.Shutdown)

	require.NoError(t, reg.Create(context.Background(), instance.Instance{
		ID:         "inst-1",
		Name:       "sales-1",
		Credential: "cred-1",
		Status:     instance.StatusDisconnected,
	}))
	return pm, reg, fp
}

func getInstance(t *testing.T, reg instance.Registry) instance.Instance {
	t.Helper()
	inst, err := reg.Get(context.Background(), "inst-1")
	require.NoError(t, err)
	return inst
}

func TestPairing_ConfirmedOnFirstPoll(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	fp.script(provider.PairingConfirmed)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))

	inst := getInstance(t, reg)
	assert.Equal(t, instance.StatusAwaitingConfirmation, inst.Status)
	assert.Equal(t, "token-sales-1-1", inst.PairingToken)

	assert.Eventually(t, func() bool {
		return getInstance(t, reg).Status == instance.StatusConnected
	}, waitFor, tick)

	inst = getInstance(t, reg)
	assert.Empty(t, inst.PairingToken)
	assert.Zero(t, inst.RetryCount)
	assert.Eventually(t, func() bool { return !pm.IsPolling("inst-1") }, waitFor, tick)
}

func TestPairing_NoChecksAfterConfirmation(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	fp.setDefault(provider.PairingConfirmed)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	assert.Eventually(t, func() bool {
		return getInstance(t, reg).Status == instance.StatusConnected
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return !pm.IsPolling("inst-1") }, waitFor, tick)

	checks := fp.checkCount()
	time.Sleep(10 * testPairingConfig.PollInterval)
	assert.Equal(t, checks, fp.checkCount())
	assert.Equal(t, instance.StatusConnected, getInstance(t, reg).Status)

	err := pm.StartPairing(context.Background(), "inst-1")
	assert.ErrorIs(t, err, common.ErrAlreadyConnected)
}

func TestPairing_RejectionsRestartAfterMaxRetries(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	fp.script(provider.PairingRejected, provider.PairingRejected)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))

	assert.Eventually(t, func() bool { return getInstance(t, reg).RetryCount == 2 }, waitFor, tick)
	inst := getInstance(t, reg)
	assert.Equal(t, instance.StatusAwaitingConfirmation, inst.Status)
	assert.Equal(t, "token-sales-1-1", inst.PairingToken)
	assert.Equal(t, 1, fp.tokenCount())

	fp.script(provider.PairingRejected)

	assert.Eventually(t, func() bool { return fp.tokenCount() == 2 }, waitFor, tick)
	assert.Eventually(t, func() bool {
		inst := getInstance(t, reg)
		return inst.PairingToken == "token-sales-1-2"
	}, waitFor, tick)

	inst = getInstance(t, reg)
	assert.Equal(t, instance.StatusAwaitingConfirmation, inst.Status)
	assert.Zero(t, inst.RetryCount)
	assert.True(t, pm.IsPolling("inst-1"))
}

func TestPairing_IndeterminateChangesNothing(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	fp.script(provider.PairingRejected)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	assert.Eventually(t, func() bool { return getInstance(t, reg).RetryCount == 1 }, waitFor, tick)

	before := fp.checkCount()
	assert.Eventually(t, func() bool { return fp.checkCount() >= before+5 }, waitFor, tick)

	inst := getInstance(t, reg)
	assert.Equal(t, instance.StatusAwaitingConfirmation, inst.Status)
	assert.Equal(t, 1, inst.RetryCount)
	assert.Equal(t, "token-sales-1-1", inst.PairingToken)
}

func TestPairing_SlowCheckIsIndeterminate(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	fp.mu.Lock()
	fp.checkDelay = 3 * testPairingConfig.CheckTimeout
	fp.defaultOutcome = provider.PairingConfirmed
	fp.mu.Unlock()

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	assert.Eventually(t, func() bool { return fp.checkCount() >= 2 }, waitFor, tick)

	inst := getInstance(t, reg)
	assert.Equal(t, instance.StatusAwaitingConfirmation, inst.Status)
	assert.Zero(t, inst.RetryCount)
}

func TestPairing_ProviderUnavailable(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	fp.tokenErr = errors.New("bridge down")

	err := pm.StartPairing(context.Background(), "inst-1")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)

	inst := getInstance(t, reg)
	assert.Equal(t, instance.StatusDisconnected, inst.Status)
	assert.Empty(t, inst.PairingToken)
	assert.False(t, pm.IsPolling("inst-1"))
}

func TestPairing_CancelStopsLoop(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	assert.Eventually(t, func() bool { return fp.checkCount() >= 1 }, waitFor, tick)

	require.NoError(t, pm.CancelPairing(context.Background(), "inst-1"))
	assert.False(t, pm.IsPolling("inst-1"))

	fp.setDefault(provider.PairingConfirmed)
	checks := fp.checkCount()
	time.Sleep(10 * testPairingConfig.PollInterval)

	inst := getInstance(t, reg)
	assert.Equal(t, instance.StatusDisconnected, inst.Status)
	assert.Empty(t, inst.PairingToken)
	assert.Equal(t, checks, fp.checkCount())
	assert.Zero(t, fp.disconnects)
}

func TestPairing_CancelConnectedDisconnectsProvider(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)
	_, err := reg.Update(context.Background(), "inst-1", func(inst *instance.Instance) error {
		inst.Status = instance.StatusConnected
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, pm.CancelPairing(context.Background(), "inst-1"))
	assert.Equal(t, instance.StatusDisconnected, getInstance(t, reg).Status)
	assert.Equal(t, 1, fp.disconnects)
}

func TestPairing_RestartReplacesSession(t *testing.T) {
	pm, reg, fp := newPairingFixture(t)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	first := getInstance(t, reg).PairingSession

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	second := getInstance(t, reg)
	assert.NotEqual(t, first, second.PairingSession)
	assert.Equal(t, "token-sales-1-2", second.PairingToken)

	fp.script(provider.PairingConfirmed)
	assert.Eventually(t, func() bool {
		return getInstance(t, reg).Status == instance.StatusConnected
	}, waitFor, tick)
}

func TestPairing_ResumeAfterRestart(t *testing.T) {
	reg := repository.NewMemoryInstanceRegistry()
	require.NoError(t, reg.Create(context.Background(), instance.Instance{
		ID:             "inst-1",
		Name:           "sales-1",
		Credential:     "cred-1",
		Status:         instance.StatusAwaitingConfirmation,
		PairingToken:   "old-token",
		PairingSession: "old-session",
		RetryCount:     2,
	}))

	fp := newFakeProvider()
	pm := NewPairingManager(reg, fp, testPairingConfig)
	t.Cleanup(pm.Shutdown)

	resumed, err := pm.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	inst := getInstance(t, reg)
	assert.Equal(t, "old-token", inst.PairingToken)
	assert.Zero(t, inst.RetryCount)
	assert.NotEqual(t, "old-session", inst.PairingSession)

	fp.script(provider.PairingConfirmed)
	assert.Eventually(t, func() bool {
		return getInstance(t, reg).Status == instance.StatusConnected
	}, waitFor, tick)
	assert.Zero(t, fp.tokenCount())
}

func TestPairing_ShutdownStopsEverything(t *testing.T) {
	pm, _, fp := newPairingFixture(t)

	require.NoError(t, pm.StartPairing(context.Background(), "inst-1"))
	pm.Shutdown()

	checks := fp.checkCount()
	time.Sleep(10 * testPairingConfig.PollInterval)
	assert.Equal(t, checks, fp.checkCount())
}

// pausingRegistry holds the first caller that moves the instance to
// awaiting_confirmation until release is closed.
type pausingRegistry struct {
	instance.Registry
	hit     int32
	paused  chan struct{}
	release chan struct{}
}

func (r *pausingRegistry) Update(ctx context.Context, id string, fn instance.UpdateFunc) (instance.Instance, error) {
	inst, err := r.Registry.Update(ctx, id, fn)
	if err == nil && inst.Status == instance.StatusAwaitingConfirmation && atomic.CompareAndSwapInt32(&r.hit, 0, 1) {
		close(r.paused)
		<-r.release
	}
	return inst, err
}

func TestPairing_OverlappingStartsLeaveOneLiveLoop(t *testing.T) {
	base := repository.NewMemoryInstanceRegistry()
	reg := &pausingRegistry{Registry: base, paused: make(chan struct{}), release: make(chan struct{})}
	fp := newFakeProvider()
	fp.setDefault(provider.PairingConfirmed)
	pm := NewPairingManager(reg, fp, testPairingConfig)
	t.Cleanup(pm.Shutdown)

	require.NoError(t, base.Create(context.Background(), instance.Instance{
		ID:         "inst-1",
		Name:       "sales-1",
		Credential: "cred-1",
		Status:     instance.StatusDisconnected,
	}))

	first := make(chan error, 1)
	go func() { first <- pm.StartPairing(context.Background(), "inst-1") }()
	<-reg.paused

	second := make(chan error, 1)
	go func() { second <- pm.StartPairing(context.Background(), "inst-1") }()

	// The second call must not get ahead of the paused one.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, fp.tokenCount())
	close(reg.release)

	require.NoError(t, <-first)
	if err := <-second; err != nil {
		assert.ErrorIs(t, err, common.ErrAlreadyConnected)
	}

	assert.Eventually(t, func() bool {
		return getInstance(t, base).Status == instance.StatusConnected
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return !pm.IsPolling("inst-1") }, waitFor, tick)
}
