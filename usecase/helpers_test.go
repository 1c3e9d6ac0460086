package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/messaging"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/AzielCF/az-dispatch/messaging/repository"
	"github.com/AzielCF/az-dispatch/pkg/msgworker"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu    sync.Mutex
	token string
	sent  []string
}

func (s *stubProvider) CreateRemoteInstance(ctx context.Context, instanceName string) error {
	return nil
}

func (s *stubProvider) RequestPairingToken(ctx context.Context, instanceName, credential string) (string, error) {
	return s.token, nil
}

func (s *stubProvider) CheckPairingConfirmation(ctx context.Context, instanceName string) provider.PairingOutcome {
	return provider.PairingIndeterminate
}

func (s *stubProvider) SendMessage(ctx context.Context, credential, address, message string, media *job.Media) (provider.SendAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, address)
	return provider.SendAck{}, nil
}

func (s *stubProvider) Disconnect(ctx context.Context, instanceName, credential string) error {
	return nil
}

func (s *stubProvider) VerifyCredential(ctx context.Context, instanceName, credential string) (provider.ConnectionState, error) {
	return provider.ConnectionClosed, nil
}

func (s *stubProvider) sentList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type testEnv struct {
	cfg      *config.Config
	manager  *messaging.Manager
	registry *repository.MemoryInstanceRegistry
	provider *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		App: config.AppConfig{BasePath: "/wa/"},
		Pairing: config.PairingConfig{
			PollInterval: time.Hour,
			CheckTimeout: 50 * time.Millisecond,
			MaxRetries:   3,
		},
		Dispatch: config.DispatchConfig{
			SendDelay:         time.Millisecond,
			SendTimeout:       time.Second,
			SchedulerInterval: time.Hour,
			MaxRecipients:     10,
			MaxMediaSize:      1024,
		},
	}

	env := &testEnv{
		cfg:      cfg,
		registry: repository.NewMemoryInstanceRegistry(),
		provider: &stubProvider{token: "2@pairing-code"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := msgworker.NewDispatchWorkerPool(2, 10)
	pool.Start(ctx)

	env.manager = messaging.NewManager(cfg, env.registry, repository.NewMemoryJobStore(), env.provider, pool, nil)
	t.Cleanup(func() {
		env.manager.Stop()
		cancel()
		pool.Stop()
	})
	return env
}

func (env *testEnv) markConnected(t *testing.T, id string) {
	t.Helper()
	_, err := env.registry.Update(context.Background(), id, func(inst *instance.Instance) error {
		inst.Status = instance.StatusConnected
		return nil
	})
	require.NoError(t, err)
}
